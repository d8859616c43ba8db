package main

import (
	"context"
	"os"

	"github.com/Philanthropists/imapfeed/internal/app"
	"github.com/Philanthropists/imapfeed/internal/config"
	"github.com/Philanthropists/imapfeed/internal/logger"
	"github.com/Philanthropists/imapfeed/internal/sync"
	"github.com/aws/aws-lambda-go/lambda"
)

const credentialsFile = "credentials.json"

var GitCommit string

// HandleRequest runs one ingest pass per invocation. The password must come
// from the config file or IMAPFEED_MAIL_PASSWORD since there is no terminal.
func HandleRequest(ctx context.Context) (sync.Summary, error) {
	log := logger.GetLogger()
	log.Infow("imapfeed lambda invoked", "version", GitCommit)

	path := os.Getenv("IMAPFEED_CONFIG")
	if path == "" {
		path = credentialsFile
	}

	cfg, err := config.Load(path)
	if err != nil {
		return sync.Summary{}, err
	}

	if err := logger.Configure(cfg.LogLevel, false); err != nil {
		return sync.Summary{}, err
	}

	bot, err := app.Build(ctx, cfg, app.Options{})
	if err != nil {
		return sync.Summary{}, err
	}
	defer bot.Release(logger.GetLogger())

	return bot.RunOnce(ctx)
}

func main() {
	lambda.Start(HandleRequest)
}
