package sites

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pquerna/otp/totp"
)

// apiEnvelope is the shared response shape of the acck.io and akile.io user
// APIs: status_code 0 means success, status_msg carries the human text.
type apiEnvelope struct {
	StatusCode int             `json:"status_code"`
	StatusMsg  string          `json:"status_msg"`
	Data       json.RawMessage `json:"data"`
}

type loginData struct {
	Token string `json:"token"`
}

type balanceData struct {
	Money  json.Number `json:"money"`
	AKCoin any         `json:"ak_coin"`
}

// login runs the shared login flow against baseURL. When the first attempt
// answers with a two-factor challenge (status_code 0 and status_msg
// mentioning 二步验证), it retries exactly once with a fresh TOTP code.
func login(ctx context.Context, cli *resty.Client, baseURL string, creds Credentials) (string, error) {
	payload := map[string]string{
		"email":      creds.Email,
		"password":   creds.Password,
		"token":      "",
		"verifyCode": "",
	}

	env, err := postLogin(ctx, cli, baseURL, payload)
	if err != nil {
		return "", err
	}

	if env.StatusCode == 0 && strings.Contains(env.StatusMsg, "二步验证") {
		if creds.TOTPSecret == "" {
			return "", fmt.Errorf("需要TOTP但未配置密钥")
		}
		code, err := totp.GenerateCode(creds.TOTPSecret, time.Now())
		if err != nil {
			return "", fmt.Errorf("generate totp code: %w", err)
		}
		payload["token"] = code
		env, err = postLogin(ctx, cli, baseURL, payload)
		if err != nil {
			return "", err
		}
		if env.StatusCode != 0 {
			return "", fmt.Errorf("TOTP验证失败: %s", statusMsgOr(env, "未知错误"))
		}
	} else if env.StatusCode != 0 {
		return "", fmt.Errorf("登录失败: %s", statusMsgOr(env, "未知错误"))
	}

	var data loginData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		return "", fmt.Errorf("登录响应缺少token")
	}
	return data.Token, nil
}

func postLogin(ctx context.Context, cli *resty.Client, baseURL string, payload map[string]string) (apiEnvelope, error) {
	resp, err := cli.R().
		SetContext(ctx).
		SetBody(payload).
		Post(baseURL + "/api/v1/user/login")
	if err != nil {
		return apiEnvelope{}, fmt.Errorf("login request: %w", err)
	}
	var env apiEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return apiEnvelope{}, fmt.Errorf("decode login response: %w", err)
	}
	return env, nil
}

// fetchBalance reads the account overview. Failures are soft: the check-in
// report simply omits the balance line.
func fetchBalance(ctx context.Context, cli *resty.Client, baseURL, token string) *Balance {
	resp, err := cli.R().
		SetContext(ctx).
		SetHeader("Authorization", token).
		Get(baseURL + "/api/v1/user/index")
	if err != nil {
		return nil
	}
	var env apiEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil || env.StatusCode != 0 {
		return nil
	}
	var data balanceData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil
	}

	money, err := data.Money.Float64()
	if err != nil {
		money = 0
	}
	return &Balance{
		AKCoin: formatAKCoin(data.AKCoin),
		Money:  money / 100,
	}
}

func formatAKCoin(v any) string {
	switch c := v.(type) {
	case nil:
		return "N/A"
	case string:
		return c
	case float64:
		if c == float64(int64(c)) {
			return strconv.FormatInt(int64(c), 10)
		}
		return strconv.FormatFloat(c, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", c)
	}
}

func containsAlreadyCheckedIn(msg string) bool {
	return strings.Contains(msg, "已签到")
}

func statusMsgOr(env apiEnvelope, fallback string) string {
	if env.StatusMsg == "" {
		return fallback
	}
	return env.StatusMsg
}
