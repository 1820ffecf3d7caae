package sites

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultAcckAPIBaseURL  = "https://api.acck.io"
	defaultAcckSignBaseURL = "https://sign-service.acck.io"
)

// AcckConfig overrides the production endpoints, mainly for tests.
type AcckConfig struct {
	APIBaseURL  string
	SignBaseURL string
	Timeout     time.Duration
}

// Acck checks in against acck.io. The sign endpoint lives on a separate host
// from the user API and speaks a different envelope ({code, msg}).
type Acck struct {
	cli         *resty.Client
	apiBaseURL  string
	signBaseURL string
}

func NewAcck(cfg AcckConfig) *Acck {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAcckAPIBaseURL
	}
	if cfg.SignBaseURL == "" {
		cfg.SignBaseURL = defaultAcckSignBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	cli := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", browserUA).
		SetHeader("Referer", "https://acck.io").
		SetHeader("Origin", "https://acck.io").
		SetHeader("Content-Type", "application/json;charset=UTF-8")

	return &Acck{cli: cli, apiBaseURL: cfg.APIBaseURL, signBaseURL: cfg.SignBaseURL}
}

func (a *Acck) Name() string { return SiteAcck }

type acckSignResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (a *Acck) CheckIn(ctx context.Context, creds Credentials) (Result, error) {
	token, err := login(ctx, a.cli, a.apiBaseURL, creds)
	if err != nil {
		return Result{Success: false, Message: err.Error()}, nil
	}

	resp, err := a.cli.R().
		SetContext(ctx).
		SetHeader("Authorization", token).
		Get(a.signBaseURL + "/api/acLogs/sign")
	if err != nil {
		return Result{}, fmt.Errorf("sign request: %w", err)
	}

	var res Result
	var sign acckSignResponse
	if jsonErr := json.Unmarshal(resp.Body(), &sign); jsonErr != nil {
		res = Result{
			Success: false,
			Message: fmt.Sprintf("签到接口返回非JSON，原始内容：%s", resp.String()),
		}
	} else {
		switch {
		case sign.Code == 200:
			res = Result{Success: true, Message: "签到成功: " + sign.Msg}
		case sign.Msg == "今日已签到":
			res = Result{Success: true, Message: "今日已签到"}
		default:
			res = Result{Success: false, Message: fmt.Sprintf("签到失败: %s", resp.String())}
		}
	}

	res.Balance = fetchBalance(ctx, a.cli, a.apiBaseURL, token)
	return res, nil
}
