package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/homechain/escrowhub/db"
	"github.com/homechain/escrowhub/lib"
	"github.com/homechain/escrowhub/lib/service"
	"github.com/homechain/escrowhub/settlement"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

// one-shot reconciliation of escrows, withdrawals and transactions that
// stayed pending longer than OLDER_THAN (default 24h)
func main() {

	c := &service.Config{}

	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}
	olderThan := 24 * time.Hour
	if v := os.Getenv("OLDER_THAN"); v != "" {
		olderThan, err = time.ParseDuration(v)
		if err != nil {
			log.Fatalf("Invalid OLDER_THAN %q: %v", v, err)
		}
	}

	logger := lib.Logger(c.LogFilePath)
	audit, err := lib.AuditLogger(c.AuditLogFilePath)
	if err != nil {
		logger.Fatalf("Error opening audit log: %v", err)
	}
	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{Dsn: c.SentryDSN}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	dbConn, err := db.Open(&c.Config)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}
	defer dbConn.Close()

	settlementCfg, err := settlement.LoadConfig()
	if err != nil {
		logger.Fatalf("Error loading settlement config: %v", err)
	}

	svc := &service.EscrowService{
		Config:        c,
		DB:            dbConn,
		Network:       settlement.NewHTTPClient(settlementCfg),
		SettlementCfg: settlementCfg,
		Logger:        logger,
		Audit:         audit,
	}

	cutoff := time.Now().Add(-olderThan)
	logrus.Infof("Reconciling rows pending since before %s", cutoff.Format(time.RFC3339))
	summary, err := svc.ReconcileAll(context.Background(), cutoff)
	if err != nil {
		sentry.CaptureException(err)
		logrus.Fatalf("Reconciliation failed: %v", err)
	}
	logrus.Infof("Checked %d escrows, %d withdrawals, %d transactions", summary.Escrows, summary.Withdrawals, summary.Transactions)
	for action, n := range summary.Actions {
		logrus.Infof("%s: %d", action, n)
	}
	if summary.Errors > 0 {
		logrus.Warnf("%d rows could not be reconciled, see the log for details", summary.Errors)
		os.Exit(1)
	}
}
