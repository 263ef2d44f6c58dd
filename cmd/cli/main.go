// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/saleskit/ltc-backend/internal/auth"
	"github.com/saleskit/ltc-backend/internal/config"
	"github.com/saleskit/ltc-backend/internal/logging"
	"github.com/saleskit/ltc-backend/internal/persistence/postgres"
	"github.com/saleskit/ltc-backend/internal/repository"
	"github.com/saleskit/ltc-backend/internal/skills"
	"github.com/saleskit/ltc-backend/internal/syncer"
)

const tokenTTL = 24 * time.Hour

func main() {
	cfg := config.Load()
	logger := logging.NewLogger(cfg.Env, "cli")

	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "sync":
		err = runSync(ctx, cfg, logger, os.Args[2:])
	case "skills":
		err = runSkills(cfg, logger)
	case "token":
		err = runToken(cfg, os.Args[2:])
	default:
		printUsage(os.Stderr)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

// runSync propagates system config to one team or to all of them.
func runSync(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	teamFlag := fs.String("team", "", "sync only this team ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	engine := syncer.New(
		repository.NewSystemRepository(pool, logger),
		repository.NewPipelineRepository(pool, logger),
		repository.NewTeamRepository(pool, logger),
		logger,
	)

	if *teamFlag != "" {
		teamID, err := uuid.Parse(*teamFlag)
		if err != nil {
			return fmt.Errorf("invalid team ID %q: %w", *teamFlag, err)
		}
		result, err := engine.SyncToTeam(ctx, teamID)
		if err != nil {
			return err
		}
		fmt.Printf("team %s: added=%d updated=%d skipped=%d roles_updated=%d roles_skipped=%d\n",
			teamID,
			result.StagesAdded,
			result.StagesUpdated,
			result.StagesSkipped,
			result.RoleConfigsUpdated,
			result.RoleConfigsSkipped,
		)
		return nil
	}

	result, err := engine.SyncToAllTeams(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("teams=%d success=%d skipped=%d errors=%d\n",
		result.Total, result.Success, result.Skipped, result.Errors)
	for _, failure := range result.Failures {
		fmt.Printf("  failed %s: %s\n", failure.TeamID, failure.Error)
	}
	return nil
}

// runSkills lists the skill catalog as the server would load it.
func runSkills(cfg config.Config, logger *slog.Logger) error {
	catalog := skills.NewCatalog(cfg.SkillsDir, logger)
	if err := catalog.Load(); err != nil {
		return err
	}

	for _, skill := range catalog.List() {
		multiTurn := ""
		if skill.SupportsMultiTurn {
			multiTurn = " (multi-turn)"
		}
		fmt.Printf("%-24s %s%s\n", skill.Slug, skill.Name, multiTurn)
	}
	return nil
}

// runToken mints a user JWT signed with the configured auth secret.
func runToken(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	userFlag := fs.String("user", "", "user ID the token is issued for")
	adminFlag := fs.Bool("admin", false, "issue an admin-scoped token")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		return fmt.Errorf("invalid user ID %q: %w", *userFlag, err)
	}

	verifier, err := auth.NewTokenVerifier(cfg.AuthSecret, tokenTTL)
	if err != nil {
		return err
	}
	token, err := verifier.Issue(userID, *adminFlag)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func printUsage(w *os.File) {
	_, _ = fmt.Fprintln(w, "usage: cli <command>")
	_, _ = fmt.Fprintln(w, "  sync [-team <uuid>]          propagate system config to teams")
	_, _ = fmt.Fprintln(w, "  skills                       list the skill catalog")
	_, _ = fmt.Fprintln(w, "  token -user <uuid> [-admin]  issue a signed user token")
}
