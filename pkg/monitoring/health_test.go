package monitoring

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

type pingableClient struct{ err error }

func (p *pingableClient) Ping(context.Context) error { return p.err }

func TestHealthChecker_Basic(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	status := hc.CheckHealth()
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", status.Status)
	}
}

func TestHealthChecker_DegradedAndUnhealthy(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	hc.AddCheck("slow", func() CheckResult { return CheckResult{Status: StatusDegraded} })
	if got := hc.CheckHealth().Status; got != StatusDegraded {
		t.Fatalf("expected degraded, got %s", got)
	}

	hc.AddCheck("down", func() CheckResult { return CheckResult{Status: "bogus"} })
	if got := hc.CheckHealth().Status; got != StatusUnhealthy {
		t.Fatalf("unknown status should count as unhealthy, got %s", got)
	}
}

func TestPingHealthCheck(t *testing.T) {
	if res := PingHealthCheck("Thing", &pingableClient{})(); res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %+v", res)
	}
	if res := PingHealthCheck("Thing", &pingableClient{err: errors.New("refused")})(); res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %+v", res)
	}
	if res := PingHealthCheck("Thing", nil)(); res.Message != "Thing client is nil" {
		t.Fatalf("unexpected message: %q", res.Message)
	}
}

func TestDatabaseHealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()
	mock.ExpectPing()

	if res := DatabaseHealthCheck(db)(); res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %+v", res)
	}
}

func TestRedisHealthCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	if res := RedisHealthCheck(client)(); res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %+v", res)
	}
}

func TestConfigurationHealthCheck(t *testing.T) {
	res := ConfigurationHealthCheck(map[string]string{"A": "x", "B": ""})()
	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %+v", res)
	}
	res = ConfigurationHealthCheck(map[string]string{"A": "x"})()
	if res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %+v", res)
	}
}
