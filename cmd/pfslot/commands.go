package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MJE43/pf-slot-go/internal/api"
	"github.com/MJE43/pf-slot-go/internal/autoplay"
	"github.com/MJE43/pf-slot-go/internal/ledgerauth"
	"github.com/MJE43/pf-slot-go/internal/play"
	"github.com/MJE43/pf-slot-go/internal/session"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the wallet's session over the local HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			return withSession(cmd, flags, func(ctx context.Context, a *app) error {
				if addr != "" {
					a.cfg.Server.Addr = addr
				}
				srv := api.NewServer(api.Options{
					Config:     a.cfg,
					Controller: a.ctrl,
					Store:      a.sessions,
					Ledger:     a.ledger,
					History:    a.db,
					Auditor:    a.auditor(),
					Logger:     a.log,
				})
				return srv.Serve(ctx)
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides config)")
	return cmd
}

func sessionCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Print the wallet's seed inventory and score",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, flags, func(_ context.Context, a *app) error {
				snap := a.ctrl.Session()
				return printJSON(cmd, api.SessionResponse{
					Wallet:     snap.Wallet,
					Seeds:      snap.Seeds,
					PaidSeeds:  snap.PaidSeeds,
					TotalScore: snap.TotalScore,
					Credits:    snap.Credits(),
					Dirty:      a.sessions.Dirty(snap.Wallet),
				})
			})
		},
	}
}

func spinCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spin",
		Short: "Spin with the next unused seed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			count, _ := cmd.Flags().GetInt("count")
			interval, _ := cmd.Flags().GetDuration("frame-interval")
			if count < 1 {
				return errors.New("--count must be at least 1")
			}
			return withSession(cmd, flags, func(ctx context.Context, a *app) error {
				results := make([]*play.SpinResult, 0, count)
				for range count {
					res, err := a.ctrl.Run(ctx, interval)
					if errors.Is(err, session.ErrNoUnusedSeed) && len(results) > 0 {
						a.log.Info().Int("spins", len(results)).Msg("out of seeds")
						break
					}
					if res != nil {
						results = append(results, res)
					}
					if err != nil {
						// an interrupted spin is still settled; show what was played
						if len(results) > 0 {
							_ = printJSON(cmd, results)
						}
						return err
					}
				}
				if count == 1 {
					return printJSON(cmd, results[0])
				}
				return printJSON(cmd, results)
			})
		},
	}
	cmd.Flags().IntP("count", "n", 1, "number of spins")
	cmd.Flags().Duration("frame-interval", 0, "delay between animation frames")
	return cmd
}

func verifyCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <seed>...",
		Short: "Re-derive the outcome and score of seeds",
		Long:  "verify re-derives each seed's outcome. With a wallet it also compares the result with what the session recorded.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			if session.NormalizeWallet(a.cfg.Wallet) == "" {
				out := make([]play.Verification, 0, len(args))
				for _, seed := range args {
					v, err := play.VerifySeed(a.engine, a.evaluator, a.cfg.Game.Reels(), seed)
					if err != nil {
						return fmt.Errorf("%s: %w", seed, err)
					}
					out = append(out, v)
				}
				return printJSON(cmd, out)
			}
			defer a.close()
			if err := a.open(cmd.Context()); err != nil {
				return err
			}
			return verifyHeld(cmd, a, args)
		},
	}
}

func verifyHeld(cmd *cobra.Command, a *app, seeds []string) error {
	out := make([]play.Verification, 0, len(seeds))
	mismatches := 0
	for _, seed := range seeds {
		v, err := a.ctrl.Verify(seed)
		if err != nil {
			return fmt.Errorf("%s: %w", seed, err)
		}
		if v.Held && !v.Matches {
			mismatches++
		}
		out = append(out, v)
	}
	if err := printJSON(cmd, out); err != nil {
		return err
	}
	if mismatches > 0 {
		return fmt.Errorf("%d seed(s) do not match the recorded score", mismatches)
	}
	return nil
}

func syncCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the local session with the ledger's unclaimed seeds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, flags, func(ctx context.Context, a *app) error {
				res, err := a.ctrl.Sync(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}

func freeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "free",
		Short: "Request the free seed grant",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, flags, func(ctx context.Context, a *app) error {
				res, err := a.ctrl.RequestFreeSeeds(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}

func buyCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "buy <bundle>",
		Short: "Buy a bundle of paid seeds by name or play count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, func(ctx context.Context, a *app) error {
				b, ok := a.cfg.FindBundle(args[0])
				if !ok {
					return fmt.Errorf("unknown bundle %q", args[0])
				}
				res, err := a.ctrl.Buy(ctx, b.Plays, b.Price)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}

func bundlesCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "bundles",
		Short: "List purchasable seed bundles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			return printJSON(cmd, api.BundlesResponse{Bundles: a.cfg.Bundles})
		},
	}
}

func claimCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "claim",
		Short: "Claim the accumulated score on the ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, flags, func(ctx context.Context, a *app) error {
				res, err := a.ctrl.Claim(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}

func autoplayCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autoplay",
		Short: "Spin repeatedly until a stop script, the spin cap or the credits end the run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scriptPath, _ := cmd.Flags().GetString("script")
			maxSpins, _ := cmd.Flags().GetInt("max-spins")
			interval, _ := cmd.Flags().GetDuration("frame-interval")

			var script string
			if scriptPath != "" {
				raw, err := os.ReadFile(scriptPath)
				if err != nil {
					return fmt.Errorf("read script: %w", err)
				}
				script = string(raw)
			}
			return withSession(cmd, flags, func(ctx context.Context, a *app) error {
				report, err := autoplay.NewRunner(a.ctrl, a.log).Run(ctx, autoplay.Config{
					Script:        script,
					MaxSpins:      maxSpins,
					FrameInterval: interval,
				})
				if report != nil {
					if perr := printJSON(cmd, report); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringP("script", "s", "", "JavaScript file defining shouldStop(stats)")
	cmd.Flags().Int("max-spins", 0, "spin cap (default 1000)")
	cmd.Flags().Duration("frame-interval", 0, "delay between animation frames")
	return cmd
}

func auditCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Re-derive every used seed and compare it with the recorded scores",
		RunE: func(cmd *cobra.Command, _ []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			return withSession(cmd, flags, func(ctx context.Context, a *app) error {
				report, err := a.auditor().Audit(ctx, a.ctrl.Session(), timeout)
				if err != nil {
					return err
				}
				if err := printJSON(cmd, report); err != nil {
					return err
				}
				if !report.Clean() {
					return fmt.Errorf("audit found %d finding(s)", len(report.Findings))
				}
				return nil
			})
		},
	}
	cmd.Flags().Duration("timeout", 30*time.Second, "give up after this long")
	return cmd
}

func historyCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded spins, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			page, _ := cmd.Flags().GetInt("page")
			perPage, _ := cmd.Flags().GetInt("per-page")
			asCSV, _ := cmd.Flags().GetBool("csv")
			return withSession(cmd, flags, func(ctx context.Context, a *app) error {
				if asCSV {
					return api.WriteSpinsCSV(ctx, cmd.OutOrStdout(), a.db, a.ctrl.Wallet())
				}
				res, err := a.db.ListSpins(ctx, a.ctrl.Wallet(), page, perPage)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().Int("page", 1, "page number")
	cmd.Flags().Int("per-page", 50, "spins per page")
	cmd.Flags().Bool("csv", false, "write every spin as CSV instead of a JSON page")
	return cmd
}

func authCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the gateway API key in the OS keychain",
	}
	profileOf := func(cmd *cobra.Command) (string, error) {
		if p, _ := cmd.Flags().GetString("profile"); p != "" {
			return p, nil
		}
		a, err := newApp(flags)
		if err != nil {
			return "", err
		}
		return a.cfg.Ledger.APIKeyProfile, nil
	}

	setKey := &cobra.Command{
		Use:   "set-key [key]",
		Short: "Store the gateway API key; reads stdin when no key is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := profileOf(cmd)
			if err != nil {
				return err
			}
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read key: %w", err)
				}
				key = line
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return errors.New("empty API key")
			}
			if err := ledgerauth.New(ledgerauth.DefaultService, credentialsPath()).SetAPIKey(profile, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored API key for profile %q\n", profile)
			return nil
		},
	}

	deleteKey := &cobra.Command{
		Use:   "delete-key",
		Short: "Remove the stored gateway API key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := profileOf(cmd)
			if err != nil {
				return err
			}
			if err := ledgerauth.New(ledgerauth.DefaultService, credentialsPath()).Delete(profile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted API key for profile %q\n", profile)
			return nil
		},
	}

	cmd.PersistentFlags().String("profile", "", "key profile (default from config)")
	cmd.AddCommand(setKey, deleteKey)
	return cmd
}
