package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/joho/godotenv"
	"github.com/yourorg/evidence-worker/internal/config"
	"github.com/yourorg/evidence-worker/internal/db"
	"github.com/yourorg/evidence-worker/internal/s3"
)

func main() {
	var (
		batchSize = flag.Int("batch-size", 25, "number of exports to verify per batch")
		maxJobs   = flag.Int("max-jobs", 0, "maximum exports to verify (0 = unlimited)")
	)
	flag.Parse()

	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg := config.Load()
	ctx := context.Background()

	store, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	defer store.Pool.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		if isInsufficientPrivilege(err) {
			log.Printf("ensure schema skipped due insufficient privilege: %v", err)
		} else {
			log.Fatalf("ensure schema: %v", err)
		}
	}

	s3c, err := s3.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL, cfg.S3Region)
	if err != nil {
		log.Fatalf("s3 client: %v", err)
	}

	var total, okCount, tamperedCount, errCount int
	for {
		if *maxJobs > 0 && total >= *maxJobs {
			break
		}
		limit := *batchSize
		if limit <= 0 {
			limit = 25
		}
		if *maxJobs > 0 && total+limit > *maxJobs {
			limit = *maxJobs - total
		}

		listCtx, listCancel := context.WithTimeout(ctx, 20*time.Second)
		candidates, err := store.ListVerificationCandidates(listCtx, limit)
		listCancel()
		if err != nil {
			log.Fatalf("list candidates: %v", err)
		}
		if len(candidates) == 0 {
			break
		}

		for _, candidate := range candidates {
			if *maxJobs > 0 && total >= *maxJobs {
				break
			}
			total++

			dlCtx, dlCancel := context.WithTimeout(ctx, 2*time.Minute)
			raw, err := s3c.GetBytes(dlCtx, candidate.ExportBucket, candidate.ExportKey)
			dlCancel()
			if err != nil {
				// unreadable objects stay unverified so the next run retries them
				errCount++
				color.Yellow("ERROR    %s %s: %v", candidate.ID, candidate.ExportKey, err)
				continue
			}

			res := check(raw, candidate)
			if res.Intact {
				okCount++
				color.Green("PASS     %s tenant=%s", candidate.ID, candidate.TenantID)
			} else {
				tamperedCount++
				color.Red("TAMPERED %s tenant=%s: %s", candidate.ID, candidate.TenantID, res.Detail)
			}

			markCtx, markCancel := context.WithTimeout(ctx, 20*time.Second)
			err = store.MarkVerified(markCtx, candidate.ID, res.Intact, res.Detail)
			markCancel()
			if err != nil {
				log.Printf("verify job %s: mark verified: %v", candidate.ID, err)
			}
		}
	}

	log.Printf("verify complete: processed=%d ok=%d tampered=%d errors=%d", total, okCount, tamperedCount, errCount)
	if tamperedCount > 0 {
		os.Exit(2)
	}
}

func isInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}
