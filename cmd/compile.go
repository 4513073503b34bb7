package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/luminet/dimmerd/config"
	"github.com/luminet/dimmerd/core/astro"
	"github.com/luminet/dimmerd/core/profile"
	"github.com/luminet/dimmerd/infra/logger"
	infrastore "github.com/luminet/dimmerd/infra/store"
)

var (
	compileProfileID int64
	compileDate      string
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Print the fire plan of a profile for one lighting day",
	RunE:  compileProfile,
}

func init() {
	compileCmd.Flags().Int64Var(&compileProfileID, "profile", 0, "profile id")
	compileCmd.Flags().StringVar(&compileDate, "date", "", "calendar date (YYYY-MM-DD, default today)")
	rootCmd.AddCommand(compileCmd)
}

func compileProfile(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tz, err := cfg.Scheduler.Location()
	if err != nil {
		return err
	}
	date := time.Now().In(tz)
	if compileDate != "" {
		if date, err = time.ParseInLocation("2006-01-02", compileDate, tz); err != nil {
			return fmt.Errorf("parse date: %w", err)
		}
	}

	store, err := infrastore.NewSQLiteStore(cfg.Store.Database(), logger.New("compile"))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.New("compile").Errorf("store close: %v", err)
		}
	}()

	profiles, err := store.ListActiveProfiles(context.Background())
	if err != nil {
		return err
	}
	comp := profile.New(astro.NewResolver(), tz, logger.New("compile"))
	for _, p := range profiles {
		if compileProfileID != 0 && p.ID != compileProfileID {
			continue
		}
		fires, err := comp.Compile(p, date)
		if err != nil {
			return fmt.Errorf("compile profile %d: %w", p.ID, err)
		}
		fmt.Printf("%s (%s) lighting day %s\n", p.Name, p.SourceID(), date.Format("2006-01-02"))
		for _, f := range fires {
			fmt.Printf("  %s  %-9s %-8s %s\n",
				f.At.In(tz).Format("15:04:05"), f.Anchor, f.Command, f.Command.Payload(f.Target.Kind))
		}
	}
	return nil
}
