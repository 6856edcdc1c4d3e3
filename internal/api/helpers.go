package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/livp123/netxpf/internal/core"
	"github.com/livp123/netxpf/internal/utils/logger"
	errs "github.com/livp123/netxpf/pkg/errors"
)

// maxBody bounds request bodies; state imports are the largest.
const maxBody = 32 << 20

// GenerateToken returns a random hex token of n bytes.
// GenerateToken 生成 n 字节的随机十六进制令牌。
func GenerateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func cutPattern(p string) (method, path string, ok bool) {
	return strings.Cut(p, " ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Get(nil).Debugf("[API] Failed to encode response: %v", err)
	}
}

// writeError renders err as {"error": kind, "message": text} with the
// status its kind maps to.
// writeError 将错误渲染为 {"error": 类型, "message": 文本}。
func writeError(w http.ResponseWriter, err error) {
	writeErrorStatus(w, errs.HTTPStatus(err), err)
}

func writeErrorStatus(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: errs.Kind(err), Message: err.Error()})
}

// reply writes v, or the error when err is set.
func reply(w http.ResponseWriter, v any, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return errs.NewInvalidError("request body: %v", err)
	}
	return nil
}

func queryClass(r *http.Request) (core.Class, error) {
	s := r.URL.Query().Get("class")
	if s == "" {
		return core.ClassFilter, nil
	}
	return core.ParseClass(s)
}

func queryUint(r *http.Request, key string, def uint64, bits int) (uint64, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, errs.NewInvalidError("%s=%q", key, s)
	}
	return v, nil
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

func pathInt(r *http.Request, key string) (int64, error) {
	s := r.PathValue(key)
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, errs.NewInvalidError("%s=%q", key, s)
	}
	return v, nil
}
