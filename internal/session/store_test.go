package session

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type failingKV struct {
	*MemoryKV
	failPut bool
}

func (f *failingKV) Put(ctx context.Context, key string, value []byte) error {
	if f.failPut {
		return errors.New("disk full")
	}
	return f.MemoryKV.Put(ctx, key, value)
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewStore(NewMemoryKV(), zerolog.Nop())

	s, err := st.Load(ctx, "0xWallet")
	if err != nil {
		t.Fatal(err)
	}
	if s.Credits() != 0 {
		t.Fatal("fresh wallet has credits")
	}

	s.Grant(TierFree, []string{"1234567"})
	s.Grant(TierPaid, []string{"7777777"})
	if err := st.MarkUsed(ctx, s, "1234567", 1200); err != nil {
		t.Fatal(err)
	}

	got, err := st.Load(ctx, "0xwallet")
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalScore != 1200 || len(got.Seeds) != 1 || len(got.PaidSeeds) != 1 {
		t.Fatalf("reloaded session %+v", got)
	}
	if !got.Seeds[0].Used || got.Seeds[0].Score != 1200 {
		t.Errorf("seed state lost: %+v", got.Seeds[0])
	}
	if got.PaidSeeds[0].Tier != TierPaid {
		t.Errorf("paid tier lost: %+v", got.PaidSeeds[0])
	}
}

func TestStoreReserve(t *testing.T) {
	st := NewStore(NewMemoryKV(), zerolog.Nop())
	s := New("w")

	if _, err := st.Reserve(s); !errors.Is(err, ErrNoUnusedSeed) {
		t.Fatalf("empty session Reserve: %v", err)
	}

	s.Grant(TierFree, []string{"1111111", "2222222"})
	seed, err := st.Reserve(s)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Reserve(s); !errors.Is(err, ErrSpinInFlight) {
		t.Fatalf("second Reserve: %v", err)
	}

	st.Release(s, seed.Value)
	again, err := st.Reserve(s)
	if err != nil {
		t.Fatal(err)
	}
	if again.Value != seed.Value {
		t.Errorf("released seed not offered again: %s vs %s", again.Value, seed.Value)
	}
	if err := st.MarkUsed(context.Background(), s, again.Value, 0); err != nil {
		t.Fatal(err)
	}
	if _, held := s.Reserved(); held {
		t.Error("MarkUsed did not clear reservation")
	}
}

func TestStoreSaveFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	kv := &failingKV{MemoryKV: NewMemoryKV(), failPut: true}
	st := NewStore(kv, zerolog.Nop())
	s := New("w")
	s.Grant(TierFree, []string{"5555555"})

	err := st.MarkUsed(ctx, s, "5555555", 300)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if s.TotalScore != 300 || !s.Seeds[0].Used {
		t.Error("in-memory mutation rolled back on save failure")
	}
	if !st.Dirty("w") {
		t.Error("session not flagged dirty")
	}

	kv.failPut = false
	if err := st.Save(ctx, s); err != nil {
		t.Fatal(err)
	}
	if st.Dirty("w") {
		t.Error("dirty flag not cleared after successful save")
	}
}

func TestStoreCorruptRecord(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	_ = kv.Put(ctx, Key("w"), []byte("{not json"))
	st := NewStore(kv, zerolog.Nop())

	s, err := st.Load(ctx, "w")
	if err != nil {
		t.Fatalf("corrupt record should not error: %v", err)
	}
	if len(s.All()) != 0 {
		t.Error("corrupt record produced seeds")
	}
}

func TestDecodeLegacyShapes(t *testing.T) {
	raw := `{
		"seeds": [
			{"value": 1234567, "used": true, "score": 10500.0},
			{"value": "0004321", "used": false, "score": 99},
			{"value": "7777777", "used": false, "source": "paid"},
			{"value": "12x", "used": false},
			{"value": "1234567", "used": false}
		],
		"paidSeeds": [
			{"value": "8888888", "used": true, "score": 300, "originalType": "paid"},
			{"value": "4321", "used": true, "score": 100}
		],
		"totalScore": 1
	}`
	s, warnings, err := Decode("0xW", []byte(raw))
	if err != nil {
		t.Fatal(err)
	}

	if len(s.Seeds) != 2 {
		t.Fatalf("free seeds %+v", s.Seeds)
	}
	if s.Seeds[0].Value != "1234567" || !s.Seeds[0].Used || s.Seeds[0].Score != 10500 {
		t.Errorf("numeric legacy seed upgraded to %+v", s.Seeds[0])
	}
	// Duplicate in the paid array marks the existing entry used.
	if s.Seeds[1].Value != "4321" || !s.Seeds[1].Used || s.Seeds[1].Score != 100 {
		t.Errorf("padded legacy seed upgraded to %+v", s.Seeds[1])
	}
	if len(s.PaidSeeds) != 2 || s.PaidSeeds[0].Value != "7777777" {
		t.Errorf("tagged seed not moved to paid: %+v", s.PaidSeeds)
	}
	if s.TotalScore != 10900 {
		t.Errorf("TotalScore = %d, want recomputed 10900", s.TotalScore)
	}
	if len(warnings) < 3 {
		t.Errorf("expected warnings for bad value, duplicates and total; got %v", warnings)
	}
}
