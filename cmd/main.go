package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"multichat/internal/app"
	"multichat/internal/integrations/decision"
	"multichat/internal/integrations/kravix"
	"multichat/internal/integrations/paramstore"
	"multichat/internal/ratelimit"
	"multichat/internal/repository"
	"multichat/internal/usecase"
)

// apiGatewayTimeout is the default REST API integration timeout.
const apiGatewayTimeout = 29 * time.Second

func main() {
	ctx := context.Background()
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	// ---- Configuration (read only here) ----
	stateTable := mustEnv("STATE_TABLE")
	paramPrefix := strings.TrimRight(mustEnv("PARAM_PREFIX"), "/")
	kravixBaseURL := os.Getenv("KRAVIX_BASE_URL")
	decisionURL := os.Getenv("DECISION_URL")
	dailyLimit := envInt("DAILY_MESSAGE_LIMIT", 5)
	callTimeout := time.Duration(envInt("CALL_TIMEOUT_SECONDS", 70)) * time.Second
	catalogPath := os.Getenv("CATALOG_PATH")
	if callTimeout > apiGatewayTimeout {
		slog.Warn("call timeout exceeds the default API Gateway integration timeout; raise the integration timeout or lower CALL_TIMEOUT_SECONDS",
			"call_timeout", callTimeout, "integration_timeout", apiGatewayTimeout)
	}

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(cfg), stateTable)
	if err != nil {
		slog.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	var kravixOpts []kravix.Option
	if kravixBaseURL != "" {
		kravixOpts = append(kravixOpts, kravix.WithBaseURL(kravixBaseURL))
	}
	backend, err := kravix.NewClient(paramstore.NewCachedToken(ssmClient, paramPrefix+"/kravix-api-key"), kravixOpts...)
	if err != nil {
		slog.Error("failed to create gateway client", "err", err)
		os.Exit(1)
	}

	var decisions usecase.DecisionService
	if decisionURL != "" {
		decisions, err = decision.NewClient(decisionURL,
			decision.WithTokenSource(paramstore.NewCachedToken(ssmClient, paramPrefix+"/decision-token")))
	} else {
		// per-container buckets; set DECISION_URL for a shared budget
		decisions, err = ratelimit.New(dailyLimit, 24*time.Hour)
	}
	if err != nil {
		slog.Error("failed to create decision service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := app.NewHandler(app.Config{
		CatalogPath: catalogPath,
		Store:       stateClient,
		Decisions:   decisions,
		Backend:     backend,
		CallTimeout: callTimeout,
		Logger:      log,
	})
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
