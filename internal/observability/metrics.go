package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sandeepkv93/session-security-engine/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "session-security-engine"

type AppMetrics struct {
	authLogin          metric.Int64Counter
	authRefresh        metric.Int64Counter
	authLogout         metric.Int64Counter
	mfaEvents          metric.Int64Counter
	sessionEvictions   metric.Int64Counter
	reuseDetections    metric.Int64Counter
	fingerprintResults metric.Int64Counter
	issueCollisions    metric.Int64Counter
	issueFailures      metric.Int64Counter
	accessValidations  metric.Int64Counter
	repositoryOps      metric.Int64Counter
	sweeperRemoved     metric.Int64Counter
	rateLimitDecisions metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

// InitMetrics installs the global meter provider. With metrics disabled the provider
// has no reader and the counters are still registered, so Record* calls stay cheap.
func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	opts := []sdkmetric.Option{sdkmetric.WithResource(serviceResource(cfg))}
	if cfg.OTELMetricsEnabled {
		exporterOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
		if cfg.OTELExporterOTLPInsecure {
			exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval)),
		))
	}
	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newAppMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	if cfg.OTELMetricsEnabled {
		logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	} else {
		logger.Info("otel metrics disabled")
	}
	return mp, nil
}

// UseMeter registers the counters on an arbitrary meter. Tests use it with a
// manual reader.
func UseMeter(meter metric.Meter) error {
	m, err := newAppMetrics(meter)
	if err != nil {
		return err
	}
	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()
	return nil
}

func newAppMetrics(meter metric.Meter) (*AppMetrics, error) {
	m := &AppMetrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.authLogin, "auth.login.attempts", "Login attempts by method and outcome"},
		{&m.authRefresh, "auth.refresh.attempts", "Refresh token rotations by outcome"},
		{&m.authLogout, "auth.logout.attempts", "Logouts by scope"},
		{&m.mfaEvents, "auth.mfa.events", "MFA gate actions by outcome"},
		{&m.sessionEvictions, "session.limit.evictions", "Sessions evicted by the per-account limit"},
		{&m.reuseDetections, "session.reuse.detected", "Replayed refresh tokens that triggered account-wide revocation"},
		{&m.fingerprintResults, "session.fingerprint.checks", "Device fingerprint comparisons by result"},
		{&m.issueCollisions, "token.issue.collisions", "Refresh token hash collisions retried during issuance"},
		{&m.issueFailures, "token.issue.failures", "Issuance aborted after exhausting collision retries"},
		{&m.accessValidations, "auth.access_token.validations", "Access token validations by outcome and source"},
		{&m.repositoryOps, "repository.operations", "Store operations by repository, operation and outcome"},
		{&m.sweeperRemoved, "sweeper.removed", "Entries removed by background sweeps"},
		{&m.rateLimitDecisions, "http.rate_limit.decisions", "Rate limiter decisions by scope and outcome"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
		*c.dst = counter
	}
	return m, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(ctx context.Context, method, outcome string) {
	if m := current(); m != nil {
		m.authLogin.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("outcome", outcome),
		))
	}
}

func RecordAuthRefresh(ctx context.Context, outcome string) {
	if m := current(); m != nil {
		m.authRefresh.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func RecordAuthLogout(ctx context.Context, scope string) {
	if m := current(); m != nil {
		m.authLogout.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
	}
}

func RecordMFAEvent(ctx context.Context, action, outcome string) {
	if m := current(); m != nil {
		m.mfaEvents.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("outcome", outcome),
		))
	}
}

func RecordSessionEvictions(ctx context.Context, n int64) {
	if m := current(); m != nil && n > 0 {
		m.sessionEvictions.Add(ctx, n)
	}
}

func RecordReuseDetected(ctx context.Context) {
	if m := current(); m != nil {
		m.reuseDetections.Add(ctx, 1)
	}
}

func RecordFingerprintCheck(ctx context.Context, strictness, result string) {
	if m := current(); m != nil {
		m.fingerprintResults.Add(ctx, 1, metric.WithAttributes(
			attribute.String("strictness", strictness),
			attribute.String("result", result),
		))
	}
}

func RecordIssueCollision(ctx context.Context) {
	if m := current(); m != nil {
		m.issueCollisions.Add(ctx, 1)
	}
}

func RecordIssueFailure(ctx context.Context) {
	if m := current(); m != nil {
		m.issueFailures.Add(ctx, 1)
	}
}

func RecordAccessTokenValidation(ctx context.Context, outcome, source string) {
	if m := current(); m != nil {
		m.accessValidations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("source", source),
		))
	}
}

func RecordRepositoryOperation(ctx context.Context, repository, operation, outcome string) {
	if m := current(); m != nil {
		m.repositoryOps.Add(ctx, 1, metric.WithAttributes(
			attribute.String("repository", repository),
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		))
	}
}

func RecordSweeperRemoved(ctx context.Context, target string, n int64) {
	if m := current(); m != nil && n > 0 {
		m.sweeperRemoved.Add(ctx, n, metric.WithAttributes(attribute.String("target", target)))
	}
}

func RecordRateLimitDecision(ctx context.Context, scope, outcome string) {
	if m := current(); m != nil {
		m.rateLimitDecisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("outcome", outcome),
		))
	}
}
