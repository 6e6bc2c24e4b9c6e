package db

import (
	"context"
	"testing"
)

func TestConnFromContext_Nil(t *testing.T) {
	if conn := ConnFromContext(context.Background()); conn != nil {
		t.Error("expected nil connection from empty context")
	}
}

func TestConnFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBConnKey, "not-a-conn")
	if conn := ConnFromContext(ctx); conn != nil {
		t.Error("expected nil for a value of the wrong type")
	}
}

func TestWithConn_NilConn(t *testing.T) {
	ctx := WithConn(context.Background(), nil)
	if conn := ConnFromContext(ctx); conn != nil {
		t.Error("expected nil connection when a nil conn was stored")
	}
}
