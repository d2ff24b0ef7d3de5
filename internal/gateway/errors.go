package gateway

import (
	"errors"
	"fmt"
)

// ツールエラーのコード。JSON-RPC 2.0 の予約範囲と分類ごとの独自コード
const (
	CodeInvalidParams = -32602
	CodeInternalError = -32603

	CodeUnauthenticated     = -32001
	CodeNotFound            = -32004
	CodeConcurrencyConflict = -32009
	CodeCapacityExceeded    = -32010
	CodeInconsistentState   = -32050
)

var kindCodes = map[string]int{
	"not_found":            CodeNotFound,
	"capacity_exceeded":    CodeCapacityExceeded,
	"concurrency_conflict": CodeConcurrencyConflict,
	"inconsistent_state":   CodeInconsistentState,
	"invalid_argument":     CodeInvalidParams,
	"unauthenticated":      CodeUnauthenticated,
}

// ErrorData はエラーの分類をクライアントへ伝える
type ErrorData struct {
	Kind   string `json:"kind"`
	Status int    `json:"status,omitempty"`
}

// RPCError はツールエラーの内容。ツール結果の structuredContent として返す
type RPCError struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func newRPCError(code int, kind, format string, args ...any) *RPCError {
	e := &RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
	if kind != "" {
		e.Data = &ErrorData{Kind: kind}
	}
	return e
}

// toRPCError は予約APIのエラー分類を保ったままツールエラーへ変換する
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		code, ok := kindCodes[remote.Kind]
		if !ok {
			code = CodeInternalError
		}
		msg := remote.Message
		if remote.Kind == "inconsistent_state" {
			msg = "予約の整合性を確認中です。時間をおいて予約状況を確認してください"
		}
		return &RPCError{Code: code, Message: msg, Data: &ErrorData{Kind: remote.Kind, Status: remote.Status}}
	}
	return newRPCError(CodeInternalError, "internal", "内部エラーが発生しました")
}
