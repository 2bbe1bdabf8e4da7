package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/BTreeMap/CadencePipe/internal/clock"
	"github.com/BTreeMap/CadencePipe/internal/enrollment"
	"github.com/BTreeMap/CadencePipe/internal/sequences"
	"github.com/BTreeMap/CadencePipe/internal/store"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll a lead in a sequence",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(viper.GetViper())
		lead, _ := cmd.Flags().GetString("lead")
		seq, _ := cmd.Flags().GetString("sequence")
		campaign, _ := cmd.Flags().GetString("campaign")

		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		leads, err := openDirectory(cfg)
		if err != nil {
			return err
		}
		if c, ok := leads.(interface{ Close() error }); ok {
			defer c.Close()
		}

		svc := enrollment.NewService(st, leads, clock.System{})
		actions, err := svc.Enroll(cmd.Context(), enrollment.Request{LeadID: lead, SequenceID: seq, CampaignID: campaign})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "enrolled lead %s in %s: %d actions\n", lead, seq, len(actions))
		for _, a := range actions {
			fmt.Fprintf(out, "  %s  step %d  %-5s  due %s\n", a.ID, a.StepIndex, a.Channel, a.DueAt.Format("2006-01-02 15:04 MST"))
		}
		return nil
	},
}

var sequencesCmd = &cobra.Command{
	Use:   "sequences",
	Short: "Manage sequence definitions",
}

var sequencesValidateCmd = &cobra.Command{
	Use:   "validate [dir|file...]",
	Short: "Parse sequence files and report errors without touching the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			dir := viper.GetString(keySequencesDir)
			if dir == "" {
				return fmt.Errorf("no sequence files given and sequences_dir not set")
			}
			args = []string{dir}
		}
		out := cmd.OutOrStdout()
		total := 0
		for _, path := range args {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.IsDir() {
				seqs, err := sequences.LoadSequencesFromDir(path)
				if err != nil {
					return err
				}
				for _, s := range seqs {
					fmt.Fprintf(out, "ok  %s (%d steps)\n", s.ID, len(s.Steps))
				}
				total += len(seqs)
				continue
			}
			s, err := sequences.LoadSequence(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "ok  %s (%d steps)\n", s.ID, len(s.Steps))
			total++
		}
		fmt.Fprintf(out, "%d sequences valid\n", total)
		return nil
	},
}

var sequencesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Load the sequences directory into the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(viper.GetViper())
		if cfg.SequencesDir == "" {
			return fmt.Errorf("sequences_dir not set")
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		n, err := sequences.Sync(cfg.SequencesDir, st)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "synced %d sequences\n", n)
		return nil
	},
}

// openStore opens the configured database, creating the SQLite parent directory if needed.
func openStore(cfg Config, opts ...store.Option) (store.Store, error) {
	if store.DetectDSNType(cfg.DatabaseURL) == "sqlite3" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabaseURL), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	st, err := store.Open(cfg.DatabaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func init() {
	f := enrollCmd.Flags()
	f.String("lead", "", "lead ID (required)")
	f.String("sequence", "", "sequence ID (required)")
	f.String("campaign", "", "campaign ID")
	_ = enrollCmd.MarkFlagRequired("lead")
	_ = enrollCmd.MarkFlagRequired("sequence")
	rootCmd.AddCommand(enrollCmd)

	sequencesCmd.AddCommand(sequencesValidateCmd, sequencesSyncCmd)
	rootCmd.AddCommand(sequencesCmd)
}
