package checkout

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/tabkeeper/internal/core"
	"github.com/flemzord/tabkeeper/internal/cron"
	"github.com/flemzord/tabkeeper/internal/payment"
	"github.com/flemzord/tabkeeper/internal/paygate"
	"github.com/flemzord/tabkeeper/internal/security"
)

func configure(t *testing.T, src string) *Module {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(src), &node); err != nil {
		t.Fatal(err)
	}
	m := &Module{}
	if err := m.Configure(node.Content[0]); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return m
}

func TestModule_ProvisionDefaults(t *testing.T) {
	dir := t.TempDir()
	m := configure(t, "initial_balance: \"50\"\naudit_log: audit.jsonl\n")

	appCtx := core.NewAppContext(slog.New(slog.DiscardHandler), dir)
	if err := m.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	svc, ok := core.ServiceAs[*Service](appCtx, ServiceName)
	if !ok || svc != m.Service() {
		t.Fatal("payment.engine service not registered")
	}
	if _, ok := core.ServiceAs[*security.AuditLogger](appCtx, security.AuditService); !ok {
		t.Error("audit service not registered")
	}
	if _, ok := svc.Processor().Store().(*payment.MemoryStore); !ok {
		t.Errorf("store = %T, want memory fallback", svc.Processor().Store())
	}
	if jobs := m.scheduler.Jobs(); len(jobs) != 3 {
		t.Errorf("jobs = %v", jobs)
	}

	ctx := context.Background()
	s := sc(t, "web:1")
	view, err := svc.Tab(ctx, s)
	if err != nil || view.Balance != "50.00" {
		t.Fatalf("tab = %+v, %v", view, err)
	}

	// The offline gateway makes every link simulated.
	if _, err := svc.AddItem(ctx, s, Item{Name: "soup", Price: dec("4.20")}); err != nil {
		t.Fatal(err)
	}
	res, err := svc.StartCheckout(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Link.Simulated || !strings.HasPrefix(res.Link.URL, "https://pay.tabkeeper.invalid/simulated/") {
		t.Errorf("link = %+v", res.Link)
	}

	if err := m.scheduler.RunNow(ctx, cron.ReconciliationJobName); err != nil {
		t.Errorf("RunNow: %v", err)
	}

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"payment_fallback"`) {
		t.Errorf("audit log missing fallback event:\n%s", data)
	}
}

func TestModule_GatewaySettings(t *testing.T) {
	m := configure(t, "{}\n")
	appCtx := core.NewAppContext(slog.New(slog.DiscardHandler), t.TempDir())
	appCtx.RegisterService(paygate.BackendService, paygate.Offline())
	appCtx.RegisterService(paygate.SettingsService, paygate.Settings{
		Currency:    "eur",
		MockBaseURL: "https://mock.example.test/pay",
	})
	if err := m.Provision(appCtx); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	ctx := context.Background()
	s := sc(t, "web:2")
	_, _ = m.Service().AddItem(ctx, s, Item{Name: "x", Price: dec("1")})
	res, err := m.Service().StartCheckout(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.Link.URL, "https://mock.example.test/pay/mock_") {
		t.Errorf("link url = %q", res.Link.URL)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"defaults", Config{}, ""},
		{"bad balance", Config{InitialBalance: "lots"}, "initial_balance"},
		{"zero balance", Config{InitialBalance: "0"}, "must be positive"},
		{"too many conflict attempts", Config{OrderConflictAttempts: 4}, "order_conflict_attempts"},
		{"negative ttl", Config{SessionTTL: -1}, "durations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.defaults()
			err := tt.cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
