package gateway

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/huangang/tracer/internal/config"
)

const (
	alipayGateway        = "https://openapi.alipay.com/gateway.do"
	alipaySandboxGateway = "https://openapi-sandbox.alipay.com/gateway.do"
)

var (
	ErrMissingAppID = errors.New("alipay app id is not configured")
	ErrInvalidKey   = errors.New("invalid RSA key")
)

// Alipay implements page pay (alipay.trade.page.pay) with RSA2 signatures.
type Alipay struct {
	appID      string
	notifyURL  string
	returnURL  string
	gatewayURL string
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	now        func() time.Time
}

// NewAlipay loads the merchant private key and the provider public key.
// Any failure here is a startup configuration error.
func NewAlipay(cfg *config.AlipayConfig) (*Alipay, error) {
	if cfg.AppID == "" {
		return nil, ErrMissingAppID
	}

	privPEM, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read merchant private key %q: %w", cfg.PrivateKeyPath, err)
	}
	priv, err := parsePrivateKey(privPEM)
	if err != nil {
		return nil, fmt.Errorf("parse merchant private key: %w", err)
	}

	pubPEM, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read alipay public key %q: %w", cfg.PublicKeyPath, err)
	}
	pub, err := parsePublicKey(pubPEM)
	if err != nil {
		return nil, fmt.Errorf("parse alipay public key: %w", err)
	}

	gw := alipayGateway
	if cfg.Sandbox {
		gw = alipaySandboxGateway
	}

	return &Alipay{
		appID:      cfg.AppID,
		notifyURL:  cfg.NotifyURL,
		returnURL:  cfg.ReturnURL,
		gatewayURL: gw,
		privateKey: priv,
		publicKey:  pub,
		now:        time.Now,
	}, nil
}

type bizContent struct {
	Subject     string `json:"subject"`
	OutTradeNo  string `json:"out_trade_no"`
	TotalAmount string `json:"total_amount"`
	ProductCode string `json:"product_code"`
}

func (a *Alipay) CreateRedirect(subject, orderID string, amountCents int64) (string, error) {
	if amountCents < 0 {
		return "", fmt.Errorf("negative amount %d", amountCents)
	}

	biz, err := json.Marshal(bizContent{
		Subject:     subject,
		OutTradeNo:  orderID,
		TotalAmount: FormatYuan(amountCents),
		ProductCode: "FAST_INSTANT_TRADE_PAY",
	})
	if err != nil {
		return "", err
	}

	params := map[string]string{
		"app_id":      a.appID,
		"method":      "alipay.trade.page.pay",
		"charset":     "utf-8",
		"sign_type":   "RSA2",
		"timestamp":   a.now().Format("2006-01-02 15:04:05"),
		"version":     "1.0",
		"notify_url":  a.notifyURL,
		"return_url":  a.returnURL,
		"biz_content": string(biz),
	}

	sign, err := a.sign(signingString(params))
	if err != nil {
		return "", err
	}

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("sign", sign)
	return a.gatewayURL + "?" + q.Encode(), nil
}

// VerifySignature checks an RSA2 (SHA256withRSA) signature. The sign and
// sign_type fields are never part of the signed content.
func (a *Alipay) VerifySignature(params map[string]string, sign string) bool {
	if sign == "" {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sign)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(signingString(params)))
	return rsa.VerifyPKCS1v15(a.publicKey, crypto.SHA256, digest[:], sig) == nil
}

func (a *Alipay) sign(content string) (string, error) {
	digest := sha256.Sum256([]byte(content))
	sig, err := rsa.SignPKCS1v15(rand.Reader, a.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// signingString joins the non-empty params as k=v pairs sorted by key,
// skipping sign and sign_type.
func signingString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// FormatYuan renders integer cents as a two-decimal yuan string.
func FormatYuan(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// pemOrBare accepts PEM, or the bare base64 body the Alipay console exports.
func pemOrBare(data []byte) ([]byte, error) {
	if block, _ := pem.Decode(data); block != nil {
		return block.Bytes, nil
	}
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, ErrInvalidKey
	}
	return der, nil
}

func parsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	der, err := pemOrBare(data)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, ErrInvalidKey
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return rsaKey, nil
}

func parsePublicKey(data []byte) (*rsa.PublicKey, error) {
	der, err := pemOrBare(data)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return rsaKey, nil
		}
		return nil, ErrInvalidKey
	}
	key, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return key, nil
}
