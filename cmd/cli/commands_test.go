package main

import (
	"reflect"
	"testing"

	grpcserver "github.com/and161185/bookloan/internal/server/grpc"
)

func parse(t *testing.T, name string, args ...string) (map[string]any, error) {
	t.Helper()
	c, ok := lookup(name)
	if !ok {
		t.Fatalf("no command %q", name)
	}
	return c.parse(args)
}

func Test_commands_BuildRequests(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		args []string
		want map[string]any
	}{
		{name: "borrow", args: []string{"-book", "b1"}, want: map[string]any{"book_id": "b1"}},
		{name: "return", args: []string{"-loan", "l1"}, want: map[string]any{"loan_id": "l1"}},
		{name: "renew", args: []string{"-loan", "l1", "-why", "prova"}, want: map[string]any{"loan_id": "l1", "justification": "prova"}},
		{name: "active", want: map[string]any{}},
		{name: "loans", args: []string{"-status", "active, overdue"}, want: map[string]any{"statuses": []any{"active", "overdue"}}},
		{name: "extend", args: []string{"-loan", "l1", "-override", "aluno PcD"}, want: map[string]any{"loan_id": "l1", "override_note": "aluno PcD"}},
		{name: "lend", args: []string{"-user", "u1", "-book", "b1"}, want: map[string]any{"user_id": "u1", "book_id": "b1", "duration_days": 0}},
		{name: "buy", args: []string{"-book", "b1", "-qty", "2", "-cents", "5990"}, want: map[string]any{"book_id": "b1", "quantity": 2, "amount_cents": int64(5990)}},
		{name: "set-rules", args: []string{"-max-renewals", "0"}, want: map[string]any{"max_renewals": 0}},
		{name: "pending", want: nil},
	}
	for _, c := range cases {
		got, err := parse(t, c.name, c.args...)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Fatalf("%s: got %#v want %#v", c.name, got, c.want)
		}
	}
}

func Test_commands_MissingRequired(t *testing.T) {
	t.Parallel()

	for _, c := range []struct {
		name string
		args []string
	}{
		{name: "borrow"},
		{name: "renew", args: []string{"-loan", "l1"}},
		{name: "resolve", args: []string{"-ref", "r1", "-decision", "approve"}},
		{name: "by-status"},
		{name: "set-rules"},
		{name: "borrow", args: []string{"-nope"}},
	} {
		if _, err := parse(t, c.name, c.args...); err == nil {
			t.Fatalf("%s %v: want error", c.name, c.args)
		}
	}
}

func Test_commands_TargetServedMethods(t *testing.T) {
	t.Parallel()

	served := map[string]bool{}
	for _, m := range grpcserver.MethodNames() {
		served[m] = true
	}
	for _, c := range commands {
		if !served[c.method] {
			t.Fatalf("%s calls unknown method %s", c.name, c.method)
		}
	}
}
