package sites

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultAkileBaseURL = "https://api.akile.io"

// AkileConfig overrides the production endpoint, mainly for tests.
type AkileConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Akile checks in against akile.io. Everything rides on the one user API
// with the {status_code, status_msg} envelope.
type Akile struct {
	cli     *resty.Client
	baseURL string
}

func NewAkile(cfg AkileConfig) *Akile {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAkileBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	cli := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json, text/plain, */*").
		SetHeader("User-Agent", browserUA).
		SetHeader("Referer", "https://akile.io/").
		SetHeader("Origin", "https://akile.io").
		SetHeader("Content-Type", "application/json;charset=UTF-8")

	return &Akile{cli: cli, baseURL: cfg.BaseURL}
}

func (a *Akile) Name() string { return SiteAkile }

func (a *Akile) CheckIn(ctx context.Context, creds Credentials) (Result, error) {
	token, err := login(ctx, a.cli, a.baseURL, creds)
	if err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}

	resp, err := a.cli.R().
		SetContext(ctx).
		SetHeader("Authorization", token).
		Get(a.baseURL + "/api/v1/user/Checkin")
	if err != nil {
		return Result{}, fmt.Errorf("checkin request: %w", err)
	}

	var env apiEnvelope
	if jsonErr := json.Unmarshal(resp.Body(), &env); jsonErr != nil {
		return Result{}, fmt.Errorf("decode checkin response: %w", jsonErr)
	}

	var res Result
	if env.StatusCode == 0 || containsAlreadyCheckedIn(env.StatusMsg) {
		res = Result{Success: true, Message: statusMsgOr(env, "签到成功")}
	} else {
		res = Result{Success: false, Message: statusMsgOr(env, "签到失败")}
	}

	res.Balance = fetchBalance(ctx, a.cli, a.baseURL, token)
	return res, nil
}
