package beacon

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// Deriver computes a table id from a matched record.
type Deriver interface {
	Derive(rec Record) (string, error)
}

// DefaultDeriver uses the iBeacon minor (decimal), the Eddystone instance
// (hex) or the NFC tag UID (hex).
type DefaultDeriver struct{}

// Derive returns the table id implied by the record's identity.
func (DefaultDeriver) Derive(rec Record) (string, error) {
	id := rec.Identity
	switch id.Kind() {
	case KindIBeacon:
		return strconv.Itoa(int(id.Minor())), nil
	case KindEddystone:
		return hex.EncodeToString(id.Secondary()), nil
	case KindNFCTag:
		return hex.EncodeToString(id.Primary()), nil
	default:
		return "", errors.New("cannot derive table id from empty identity")
	}
}

// ExprDeriver evaluates an expr-lang expression against the record. The
// environment exposes kind, uuid, major, minor, namespace, instance, uid and
// hint; identifiers of other kinds are zero values.
//
//	"T" + string(minor)
//	kind == "eddystone" ? instance[8:] : string(minor)
type ExprDeriver struct {
	expression string
	program    *exprvm.Program
}

// NewExprDeriver compiles expression once.
func NewExprDeriver(expression string) (*ExprDeriver, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, errors.New("table id expression must not be empty")
	}
	program, err := exprlang.Compile(expression,
		exprlang.Env(exprEnv(Record{})),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile table id expression %q: %w", expression, err)
	}
	return &ExprDeriver{expression: expression, program: program}, nil
}

// Derive evaluates the compiled program against rec. A nil or empty result
// is an error.
func (d *ExprDeriver) Derive(rec Record) (string, error) {
	out, err := exprlang.Run(d.program, exprEnv(rec))
	if err != nil {
		return "", fmt.Errorf("evaluate table id expression %q: %w", d.expression, err)
	}
	var tableID string
	switch v := out.(type) {
	case nil:
	case string:
		tableID = v
	default:
		tableID = fmt.Sprint(v)
	}
	if tableID == "" {
		return "", fmt.Errorf("table id expression %q produced an empty id for %s", d.expression, rec.Identity)
	}
	return tableID, nil
}

func exprEnv(rec Record) map[string]any {
	id := rec.Identity
	env := map[string]any{
		"kind":      id.Kind().String(),
		"uuid":      "",
		"major":     0,
		"minor":     0,
		"namespace": "",
		"instance":  "",
		"uid":       "",
		"hint":      rec.TableHint,
	}
	switch id.Kind() {
	case KindIBeacon:
		env["uuid"] = id.UUID().String()
		env["major"] = int(id.Major())
		env["minor"] = int(id.Minor())
	case KindEddystone:
		env["namespace"] = hex.EncodeToString(id.Primary())
		env["instance"] = hex.EncodeToString(id.Secondary())
	case KindNFCTag:
		env["uid"] = hex.EncodeToString(id.Primary())
	}
	return env
}
