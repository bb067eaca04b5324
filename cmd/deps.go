package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marx-cli/internal/config"
	"github.com/sells-group/marx-cli/internal/metrics"
	"github.com/sells-group/marx-cli/internal/model"
	"github.com/sells-group/marx-cli/internal/notify"
	"github.com/sells-group/marx-cli/internal/portal"
	"github.com/sells-group/marx-cli/internal/resilience"
	"github.com/sells-group/marx-cli/internal/store"
	"github.com/sells-group/marx-cli/pkg/tldcrm"
)

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func newCRMClient(m *metrics.Metrics) tldcrm.Client {
	r := cfg.CRM.Retry
	retry := resilience.FromSettings(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
	retry.OnRetry = resilience.Chain(resilience.RetryLogger("crm", "request"), m.OnCRMRetry)

	opts := []tldcrm.Option{
		tldcrm.WithEgressURL(cfg.CRM.EgressURL),
		tldcrm.WithIngressURL(cfg.CRM.IngressURL),
		tldcrm.WithRetry(retry),
	}
	if cfg.CRM.RateLimit > 0 {
		opts = append(opts, tldcrm.WithRateLimit(cfg.CRM.RateLimit))
	}
	if cfg.Reset.TimeoutSecs > 0 {
		opts = append(opts, tldcrm.WithClearTimeout(time.Duration(cfg.Reset.TimeoutSecs)*time.Second))
	}

	return tldcrm.NewClient(tldcrm.Credentials{
		APIID:  cfg.CRM.APIID,
		APIKey: cfg.CRM.APIKey,
		Cookie: cfg.CRM.Cookie,
	}, opts...)
}

func newPortalOpener(c config.PortalConfig) *portal.SidecarClient {
	backoff := time.Duration(c.LookupBackoffSecs) * time.Second
	opts := []portal.Option{
		portal.WithLookupRetry(resilience.RetryConfig{
			MaxAttempts:    c.LookupAttempts,
			InitialBackoff: backoff,
			MaxBackoff:     backoff,
			Multiplier:     1.0,
		}),
	}
	if c.RequestTimeoutSecs > 0 {
		opts = append(opts, portal.WithHTTPClient(&http.Client{
			Timeout: time.Duration(c.RequestTimeoutSecs) * time.Second,
		}))
	}
	return portal.NewSidecarClient(c.BaseURL, toPortalCredentials(c.Credentials), opts...)
}

func toPortalCredentials(in []config.PortalCredential) []portal.Credential {
	out := make([]portal.Credential, 0, len(in))
	for _, c := range in {
		out = append(out, portal.Credential{Username: c.Username, Password: c.Password, Mailbox: c.Mailbox})
	}
	return out
}

func newNotifier(ctx context.Context, c config.NotifyConfig) (notify.Notifier, error) {
	switch c.Provider {
	case "", "none":
		return notify.Nop{}, nil
	case "webhook":
		return notify.NewWebhook(c.WebhookURL), nil
	case "ses":
		return notify.NewSES(ctx, c.SES.Region, c.SES.From, c.SES.To)
	default:
		return nil, eris.Errorf("unsupported notify provider: %s", c.Provider)
	}
}

// trackRun records a ledger entry around fn. fn returns the counts to store.
func trackRun(ctx context.Context, kind model.RunKind, input string, force bool, fn func() (int, int, error)) error {
	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	run, err := st.BeginRun(ctx, kind, input, force)
	if err != nil {
		return err
	}
	zap.L().Info("run started", zap.String("run_id", run.ID), zap.String("kind", string(kind)))

	policies, alerts, runErr := fn()

	if err := st.FinishRun(context.WithoutCancel(ctx), run.ID, policies, alerts, runErr); err != nil {
		zap.L().Error("record run result", zap.String("run_id", run.ID), zap.Error(err))
	}
	return runErr
}

// finishMetrics records the run duration and pushes everything.
func finishMetrics(ctx context.Context, m *metrics.Metrics, kind model.RunKind, start time.Time) {
	m.RunDuration.WithLabelValues(string(kind)).Set(time.Since(start).Seconds())
	if err := m.Push(context.WithoutCancel(ctx), cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
		zap.L().Warn("push metrics", zap.Error(err))
	}
}
