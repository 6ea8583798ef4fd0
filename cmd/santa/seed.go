package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"secretsanta/internal/directory/models"
	dErrors "secretsanta/pkg/domain-errors"
)

// seedFile is the YAML layout accepted by `santa seed`:
//
//	participants:
//	  - email: ann@example.com
//	    name: Ann
//	    exclusions: [bob@example.com]
//	  - email: bob@example.com
//	    active: false
type seedFile struct {
	Participants []seedParticipant `yaml:"participants"`
}

type seedParticipant struct {
	Email      string   `yaml:"email"`
	Name       string   `yaml:"name"`
	Exclusions []string `yaml:"exclusions"`
	Active     *bool    `yaml:"active"`
}

type directory interface {
	Add(ctx context.Context, address, displayName string) (*models.Participant, error)
	SetExclusions(ctx context.Context, id string, exclusions []string) (*models.Participant, error)
	SetActive(ctx context.Context, id string, active bool) (*models.Participant, error)
	Rename(ctx context.Context, id, displayName string) (*models.Participant, error)
}

func seedCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load participants and exclusions from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := commonRun()
			if err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			added, err := seed(cmd.Context(), a.directory, f, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d participants\n", added)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "participants.yaml", "YAML file listing participants")
	return cmd
}

// seed adds every participant in r, then applies exclusions and activity.
// Participants that already exist are updated rather than rejected, so a
// seed file can be re-applied: a non-empty name renames them and an explicit
// active flag sets their state either way.
func seed(ctx context.Context, dir directory, r io.Reader, logger *slog.Logger) (int, error) {
	var file seedFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("decode seed file: %w", err)
	}

	added := 0
	for _, sp := range file.Participants {
		p, err := dir.Add(ctx, sp.Email, sp.Name)
		switch {
		case err == nil:
			added++
		case dErrors.HasCode(err, dErrors.CodeConflict):
			logger.InfoContext(ctx, "participant already present", "participant", sp.Email)
			if strings.TrimSpace(sp.Name) != "" {
				if _, err := dir.Rename(ctx, sp.Email, sp.Name); err != nil {
					return added, fmt.Errorf("rename %s: %w", sp.Email, err)
				}
			}
		default:
			return added, fmt.Errorf("add %s: %w", sp.Email, err)
		}
		id := sp.Email
		if p != nil {
			id = p.ID
		}
		if len(sp.Exclusions) > 0 {
			if _, err := dir.SetExclusions(ctx, id, sp.Exclusions); err != nil {
				return added, fmt.Errorf("exclusions for %s: %w", sp.Email, err)
			}
		}
		if sp.Active != nil {
			if _, err := dir.SetActive(ctx, id, *sp.Active); err != nil {
				return added, fmt.Errorf("set activity of %s: %w", sp.Email, err)
			}
		}
	}
	return added, nil
}
