package sites

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

const testTOTPSecret = "JBSWY3DPEHPK3PXP"

func decodeLogin(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	var payload map[string]string
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login payload: %v", err)
	}
	return payload
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestAcckCheckInSuccess(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/user/login":
			payload := decodeLogin(t, r)
			if payload["email"] != "a@b.c" || payload["password"] != "pw" {
				t.Errorf("unexpected login payload %v", payload)
			}
			writeJSON(w, map[string]any{"status_code": 0, "status_msg": "ok", "data": map[string]string{"token": "tok123"}})
		case "/api/v1/user/index":
			if r.Header.Get("Authorization") != "tok123" {
				t.Errorf("missing auth header on balance call")
			}
			writeJSON(w, map[string]any{"status_code": 0, "data": map[string]any{"money": 1234, "ak_coin": 7}})
		default:
			t.Errorf("unexpected api path %s", r.URL.Path)
		}
	}))
	defer api.Close()

	sign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/acLogs/sign" {
			t.Errorf("unexpected sign path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "tok123" {
			t.Errorf("missing auth header on sign call")
		}
		writeJSON(w, map[string]any{"code": 200, "msg": "签到成功获得10积分"})
	}))
	defer sign.Close()

	c := NewAcck(AcckConfig{APIBaseURL: api.URL, SignBaseURL: sign.URL, Timeout: 5 * time.Second})
	res, err := c.CheckIn(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	if err != nil {
		t.Fatalf("checkin: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Balance == nil || res.Balance.Money != 12.34 || res.Balance.AKCoin != "7" {
		t.Fatalf("unexpected balance %+v", res.Balance)
	}

	report := res.Report()
	if !strings.Contains(report, "签到结果: 成功") || !strings.Contains(report, "现金: ¥12.34") {
		t.Fatalf("unexpected report %q", report)
	}
}

func TestAcckAlreadyCheckedInCountsAsSuccess(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/user/login":
			writeJSON(w, map[string]any{"status_code": 0, "data": map[string]string{"token": "t"}})
		case "/api/v1/user/index":
			writeJSON(w, map[string]any{"status_code": 1, "status_msg": "nope"})
		}
	}))
	defer api.Close()

	sign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"code": 400, "msg": "今日已签到"})
	}))
	defer sign.Close()

	c := NewAcck(AcckConfig{APIBaseURL: api.URL, SignBaseURL: sign.URL})
	res, err := c.CheckIn(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	if err != nil {
		t.Fatalf("checkin: %v", err)
	}
	if !res.Success || res.Message != "今日已签到" {
		t.Fatalf("expected already-checked-in success, got %+v", res)
	}
	if res.Balance != nil {
		t.Fatalf("expected no balance when index call fails, got %+v", res.Balance)
	}
}

func TestAcckNonJSONSignResponse(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/user/login":
			writeJSON(w, map[string]any{"status_code": 0, "data": map[string]string{"token": "t"}})
		case "/api/v1/user/index":
			writeJSON(w, map[string]any{"status_code": 0, "data": map[string]any{"money": 0, "ak_coin": "0"}})
		}
	}))
	defer api.Close()

	sign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>gateway error</html>"))
	}))
	defer sign.Close()

	c := NewAcck(AcckConfig{APIBaseURL: api.URL, SignBaseURL: sign.URL})
	res, err := c.CheckIn(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	if err != nil {
		t.Fatalf("checkin: %v", err)
	}
	if res.Success {
		t.Fatalf("expected failure on non-JSON sign response")
	}
	if !strings.Contains(res.Message, "签到接口返回非JSON") || !strings.Contains(res.Message, "gateway error") {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestLoginTOTPRetry(t *testing.T) {
	var calls int
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/user/login":
			calls++
			payload := decodeLogin(t, r)
			if payload["token"] == "" {
				writeJSON(w, map[string]any{"status_code": 0, "status_msg": "请输入二步验证码"})
				return
			}
			// Accept neighboring periods so the test cannot flake on a
			// 30-second boundary.
			valid := false
			for _, at := range []time.Time{time.Now().Add(-30 * time.Second), time.Now(), time.Now().Add(30 * time.Second)} {
				want, err := totp.GenerateCode(testTOTPSecret, at)
				if err != nil {
					t.Fatalf("generate expected code: %v", err)
				}
				if payload["token"] == want {
					valid = true
				}
			}
			if !valid {
				t.Errorf("unexpected totp code %q", payload["token"])
			}
			writeJSON(w, map[string]any{"status_code": 0, "data": map[string]string{"token": "tok-2fa"}})
		case "/api/v1/user/Checkin":
			writeJSON(w, map[string]any{"status_code": 0, "status_msg": "签到成功"})
		case "/api/v1/user/index":
			writeJSON(w, map[string]any{"status_code": 0, "data": map[string]any{"money": "500", "ak_coin": "3"}})
		}
	}))
	defer api.Close()

	c := NewAkile(AkileConfig{BaseURL: api.URL})
	res, err := c.CheckIn(context.Background(), Credentials{Email: "a@b.c", Password: "pw", TOTPSecret: testTOTPSecret})
	if err != nil {
		t.Fatalf("checkin: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success after totp retry, got %+v", res)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 login calls, got %d", calls)
	}
	if res.Balance == nil || res.Balance.Money != 5.00 {
		t.Fatalf("unexpected balance %+v", res.Balance)
	}
}

func TestLoginTOTPRequiredButMissing(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status_code": 0, "status_msg": "需要二步验证"})
	}))
	defer api.Close()

	c := NewAkile(AkileConfig{BaseURL: api.URL})
	res, err := c.CheckIn(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	if err != nil {
		t.Fatalf("checkin: %v", err)
	}
	if res.Success {
		t.Fatalf("expected failure without totp secret")
	}
	if !strings.Contains(res.Message, "需要TOTP但未配置密钥") {
		t.Fatalf("unexpected message %q", res.Message)
	}
}

func TestAkileLoginFailure(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status_code": 1, "status_msg": "密码错误"})
	}))
	defer api.Close()

	c := NewAkile(AkileConfig{BaseURL: api.URL})
	res, err := c.CheckIn(context.Background(), Credentials{Email: "a@b.c", Password: "bad"})
	if err != nil {
		t.Fatalf("checkin: %v", err)
	}
	if res.Success {
		t.Fatalf("expected login failure")
	}
	if !strings.Contains(res.Message, "密码错误") {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if !strings.Contains(res.Report(), "签到结果: 失败") {
		t.Fatalf("unexpected report %q", res.Report())
	}
}

func TestAkileAlreadyCheckedIn(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/user/login":
			writeJSON(w, map[string]any{"status_code": 0, "data": map[string]string{"token": "t"}})
		case "/api/v1/user/Checkin":
			writeJSON(w, map[string]any{"status_code": 2, "status_msg": "今天已签到，明天再来"})
		case "/api/v1/user/index":
			writeJSON(w, map[string]any{"status_code": 0, "data": map[string]any{"money": 0, "ak_coin": "0"}})
		}
	}))
	defer api.Close()

	c := NewAkile(AkileConfig{BaseURL: api.URL})
	res, err := c.CheckIn(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	if err != nil {
		t.Fatalf("checkin: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected already-checked-in success, got %+v", res)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(RegistryConfig{Timeout: time.Second})

	for _, name := range []string{"acck", "Acck", "AKILE"} {
		c, err := r.Get(name)
		if err != nil {
			t.Fatalf("get %q: %v", name, err)
		}
		if c == nil {
			t.Fatalf("nil client for %q", name)
		}
	}
	if _, err := r.Get("nosuch"); err == nil {
		t.Fatalf("expected error for unknown site")
	}
}

func TestDisplayName(t *testing.T) {
	if DisplayName(SiteAcck) != "Acck" || DisplayName(SiteAkile) != "Akile" {
		t.Fatalf("unexpected display names %q %q", DisplayName(SiteAcck), DisplayName(SiteAkile))
	}
}
