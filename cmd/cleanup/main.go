package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/meter_pay_server/config"
	"github.com/qs3c/meter_pay_server/internal/database"
	"github.com/qs3c/meter_pay_server/internal/pkg/logger"
	"github.com/qs3c/meter_pay_server/internal/repository"
	"github.com/qs3c/meter_pay_server/internal/service"
)

var (
	configPath      = flag.String("config", "config.yaml", "Path to config file")
	dryRun          = flag.Bool("dry-run", true, "Dry run mode, only report what would change")
	wipeEmail       = flag.String("email", "", "Wipe the user registered with this email")
	reindexPayments = flag.Bool("reindex-payments", false, "Rebuild user_payments index from payment records")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	if *wipeEmail == "" && !*reindexPayments {
		log.Error("nothing to do, pass -email or -reindex-payments")
		flag.Usage()
		os.Exit(2)
	}

	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("connect redis")
	}
	defer rdb.Close()

	ctx := context.Background()
	store := repository.NewStore(rdb)
	log.WithField("dry_run", *dryRun).Info("cleanup started")

	if *wipeEmail != "" {
		users := repository.NewUserRepository(store)
		inviteRepo := repository.NewInviteRepository(store)
		credentials := service.NewCredentialService(users, repository.NewVerificationRepository(store), inviteRepo,
			repository.NewSessionRepository(store), service.NewInviteService(inviteRepo, users, log), log)

		if err := wipeUser(ctx, credentials, strings.TrimSpace(*wipeEmail), *dryRun, log); err != nil {
			log.WithError(err).Fatal("wipe user failed")
		}
	}

	if *reindexPayments {
		stats, err := reindex(ctx, repository.NewPaymentRepository(store), *dryRun, log)
		if err != nil {
			log.WithError(err).Fatal("reindex payments failed")
		}
		log.WithFields(logrus.Fields{
			"scanned": stats.Scanned,
			"indexed": stats.Indexed,
			"missing": stats.Missing,
		}).Info("reindex summary")
	}

	if *dryRun {
		log.Warn("dry run mode, nothing was changed. Run with -dry-run=false to apply")
	} else {
		log.Info("cleanup completed")
	}
}

// wipeUser 按邮箱清除用户，dry-run 时只查找
func wipeUser(ctx context.Context, credentials *service.CredentialService, email string, dryRun bool, log logrus.FieldLogger) error {
	logger := log.WithField("email", email)
	if dryRun {
		user, err := credentials.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		logger.WithField("user_id", user.ID).Info("would wipe user")
		return nil
	}

	report, err := credentials.WipeByEmail(ctx, email)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"user_id":           report.UserID,
		"invite_codes":      report.InviteCodes,
		"sessions":          report.Sessions,
		"payments_retained": report.PaymentsRetained,
	}).Info("user wiped")
	return nil
}

type reindexStats struct {
	Scanned int
	Indexed int
	Missing int
}

// reindex 补齐 user_payments 中缺失的支付记录
func reindex(ctx context.Context, payments *repository.PaymentRepository, dryRun bool, log logrus.FieldLogger) (*reindexStats, error) {
	stats := &reindexStats{}
	err := payments.ScanIDs(ctx, func(ids []string) error {
		for _, id := range ids {
			rec, err := payments.GetByID(ctx, id)
			if errors.Is(err, repository.ErrNotFound) {
				// 扫描期间被删除
				continue
			}
			if err != nil {
				return err
			}
			stats.Scanned++
			if dryRun {
				indexed, err := payments.IsIndexed(ctx, rec)
				if err != nil {
					return err
				}
				if !indexed {
					stats.Missing++
					log.WithFields(logrus.Fields{"payment_id": rec.ID, "user_id": rec.UserID}).Info("would index payment")
				}
				continue
			}
			added, err := payments.IndexForUser(ctx, rec)
			if err != nil {
				return err
			}
			if added {
				stats.Indexed++
				log.WithFields(logrus.Fields{"payment_id": rec.ID, "user_id": rec.UserID}).Info("payment indexed")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
