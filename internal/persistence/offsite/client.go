// Package offsite uploads persistence artifacts (snapshots, tick log
// segments, match archives) to an S3-compatible bucket so a galaxy can be
// restored after losing its local disk. Writes are asynchronous and lossy
// under sustained saturation; the local data dir stays authoritative.
package offsite

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

// Signature V4 parameters. R2 and most S3 clones accept the "auto" region.
const (
	signAlgorithm = "AWS4-HMAC-SHA256"
	signRegion    = "auto"
	signService   = "s3"
)

// Client issues signed PUTs against one bucket. It holds no connection
// state beyond the shared http.Client and is safe for concurrent use.
type Client struct {
	endpoint string
	bucket   string
	keyID    string
	secret   string
	http     *http.Client
}

func NewClient(endpoint, bucket, keyID, secret string) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	bucket = strings.TrimSpace(bucket)
	keyID = strings.TrimSpace(keyID)
	secret = strings.TrimSpace(secret)

	if endpoint == "" || bucket == "" || keyID == "" || secret == "" {
		return nil, fmt.Errorf("offsite: endpoint, bucket and credentials are all required")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("offsite: parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("offsite: invalid endpoint %q", endpoint)
	}

	return &Client{
		endpoint: strings.TrimRight(u.String(), "/"),
		bucket:   bucket,
		keyID:    keyID,
		secret:   secret,
		http:     &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// PutFile uploads the file at localPath under the given object key.
// The key is cleaned first; keys escaping upward are rejected.
func (c *Client) PutFile(ctx context.Context, key, localPath string) error {
	key = cleanKey(key)
	if key == "" {
		return fmt.Errorf("offsite: empty object key")
	}

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.IsDir() {
		return fmt.Errorf("offsite: %s is a directory", localPath)
	}

	// SigV4 signs the payload hash, so the file is read twice: once to
	// hash, once to send.
	payloadHash, err := hashFile(f)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	canonicalURI := "/" + c.bucket + "/" + escapeKey(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint+canonicalURI, f)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Header.Set("x-amz-date", now.Format("20060102T150405Z"))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = st.Size()
	req.Header.Set("Authorization", c.authorization(canonicalURI, req.URL.Host, payloadHash, now))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	return fmt.Errorf("offsite: put %s status=%d body=%s", key, resp.StatusCode, strings.TrimSpace(string(body)))
}

// authorization builds the SigV4 Authorization header for a PUT of the
// given canonical URI and payload hash.
func (c *Client) authorization(canonicalURI, host, payloadHash string, now time.Time) string {
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	const signedHeaders = "host;x-amz-content-sha256;x-amz-date"
	canonicalHeaders := "host:" + host + "\n" +
		"x-amz-content-sha256:" + payloadHash + "\n" +
		"x-amz-date:" + amzDate + "\n"

	canonicalRequest := strings.Join([]string{
		http.MethodPut,
		canonicalURI,
		"",
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := strings.Join([]string{dateStamp, signRegion, signService, "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		signAlgorithm,
		amzDate,
		scope,
		hexSHA256([]byte(canonicalRequest)),
	}, "\n")

	// AWS4 key derivation chain: secret -> date -> region -> service.
	k := hmacSum([]byte("AWS4"+c.secret), []byte(dateStamp))
	k = hmacSum(k, []byte(signRegion))
	k = hmacSum(k, []byte(signService))
	k = hmacSum(k, []byte("aws4_request"))
	signature := hex.EncodeToString(hmacSum(k, []byte(stringToSign)))

	return fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		signAlgorithm, c.keyID, scope, signedHeaders, signature)
}

// cleanKey normalizes slashes and collapses dot segments. Keys that would
// escape the bucket root come back empty.
func cleanKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return ""
	}
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if clean == "." || strings.HasPrefix(clean, "../") {
		return ""
	}
	return clean
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return strings.Join(parts, "/")
}

func hashFile(f *os.File) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hexSHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func hmacSum(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write(data)
	return h.Sum(nil)
}
