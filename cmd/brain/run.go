package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkovalev/web-agent-brain/internal/annotate"
	"github.com/mkovalev/web-agent-brain/internal/brain"
	"github.com/mkovalev/web-agent-brain/internal/browser"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		url  string
		goal string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one goal against a live page with a local browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" || goal == "" {
				return errors.New("--url and --goal are required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := buildDeps(a)
			if err != nil {
				return err
			}
			return runLocal(ctx, a, d, url, goal)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "page to open")
	cmd.Flags().StringVar(&goal, "goal", "", "goal to execute")
	return cmd
}

func runLocal(ctx context.Context, a *app, d *deps, url, goal string) error {
	launcher, err := browser.NewLauncher(a.cfg.Headless)
	if err != nil {
		return err
	}
	defer launcher.Close()

	driver, err := launcher.NewDriver(a.logger)
	if err != nil {
		return err
	}
	defer driver.Close()

	if err := driver.Navigate(ctx, url); err != nil {
		return err
	}

	sess := brain.NewSession()
	newTask := true
	for step := 0; step < a.cfg.MaxSteps; step++ {
		_ = driver.WaitForQuiet(ctx, 3*time.Second)

		obs, err := driver.Observe(ctx)
		if err != nil {
			return fmt.Errorf("observe: %w", err)
		}
		shot, err := driver.Screenshot(ctx)
		if err != nil {
			a.logger.Warn().Err(err).Msg("screenshot failed, going text-only")
			shot = ""
		}
		marked := ""
		if shot != "" {
			if marked, err = annotate.Mark(shot, obs.Boxes); err != nil {
				a.logger.Warn().Err(err).Msg("annotation failed, using raw screenshot")
				marked = ""
			}
		}

		act := d.decider.Decide(ctx, sess, brain.Request{
			Goal:       goal,
			Listing:    obs.Listing,
			Screenshot: shot,
			Marked:     marked,
			NewTask:    newTask,
		})
		newTask = false

		if act.Terminal() {
			fmt.Println(act.Value)
			if act.Kind == brain.KindError {
				return errors.New(act.Value)
			}
			return nil
		}

		if err := driver.Perform(ctx, act); err != nil {
			a.logger.Warn().Err(err).Str("action", act.Digest()).Msg("execution failed")
			sess.LogError(err.Error())
		}
	}
	return fmt.Errorf("goal not completed within %d steps", a.cfg.MaxSteps)
}
