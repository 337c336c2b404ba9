package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

const unsignedPayload = "UNSIGNED-PAYLOAD"

// SigV4Auth signs requests with AWS Signature Version 4.
type SigV4Auth struct {
	AccessKey    string
	SecretKey    string
	SessionToken string
	Region       string
	Service      string

	now func() time.Time
}

// Authenticate sets Host, X-Amz-Date, X-Amz-Content-Sha256 and
// Authorization on req.
func (a *SigV4Auth) Authenticate(_ context.Context, req *Request) error {
	parsedURL, err := url.Parse(req.BuildURL())
	if err != nil {
		return err
	}

	now := time.Now
	if a.now != nil {
		now = a.now
	}
	t := now().UTC()
	amzDate := t.Format("20060102T150405Z")
	dateStamp := t.Format("20060102")
	host := parsedURL.Host

	payloadHash := unsignedPayload
	if req.Body == nil {
		payloadHash = sha256Hash(nil)
	} else {
		data, ok, err := req.Body.Bytes()
		if err != nil {
			return err
		}
		if ok {
			payloadHash = sha256Hash(data)
		}
	}

	signedHeaders := "host;x-amz-date"
	canonicalHeaders := fmt.Sprintf("host:%s\nx-amz-date:%s\n", host, amzDate)
	if a.SessionToken != "" {
		signedHeaders += ";x-amz-security-token"
		canonicalHeaders += fmt.Sprintf("x-amz-security-token:%s\n", a.SessionToken)
	}

	canonicalURI := parsedURL.EscapedPath()
	if canonicalURI == "" {
		canonicalURI = "/"
	}

	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI,
		createCanonicalQueryString(parsedURL.Query()),
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	credentialScope := fmt.Sprintf("%s/%s/%s/aws4_request", dateStamp, a.Region, a.Service)

	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		credentialScope,
		sha256Hash([]byte(canonicalRequest)),
	}, "\n")

	signingKey := getSignatureKey(a.SecretKey, dateStamp, a.Region, a.Service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	req.Headers["Host"] = host
	req.Headers["X-Amz-Date"] = amzDate
	req.Headers["X-Amz-Content-Sha256"] = payloadHash
	if a.SessionToken != "" {
		req.Headers["X-Amz-Security-Token"] = a.SessionToken
	}
	req.Headers["Authorization"] = fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		a.AccessKey, credentialScope, signedHeaders, signature)
	return nil
}

func createCanonicalQueryString(values url.Values) string {
	if len(values) == 0 {
		return ""
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs []string
	for _, k := range keys {
		vals := values[k]
		sort.Strings(vals)
		for _, v := range vals {
			pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(pairs, "&")
}

func sha256Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func getSignatureKey(secretKey, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), dateStamp)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, "aws4_request")
}
