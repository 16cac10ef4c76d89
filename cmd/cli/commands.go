package main

import (
	"errors"
	"flag"
	"io"
	"strings"
)

// command maps a subcommand to one RPC. bind registers flags and returns the request builder.
type command struct {
	name   string
	method string
	usage  string
	bind   func(fs *flag.FlagSet) func() (map[string]any, error)
}

var commands = []command{
	{name: "borrow", method: "RequestLoan", usage: "-book <uuid>", bind: func(fs *flag.FlagSet) func() (map[string]any, error) {
		book := fs.String("book", "", "book id")
		return func() (map[string]any, error) {
			return need(map[string]any{"book_id": *book}, "book_id")
		}
	}},
	{name: "return", method: "RequestReturn", usage: "-loan <uuid> [-why <text>]", bind: func(fs *flag.FlagSet) func() (map[string]any, error) {
		loan := fs.String("loan", "", "loan id")
		why := fs.String("why", "", "justification")
		return func() (map[string]any, error) {
			return need(map[string]any{"loan_id": *loan, "justification": *why}, "loan_id")
		}
	}},
	{name: "renew", method: "RequestRenewal", usage: "-loan <uuid> -why <text>", bind: func(fs *flag.FlagSet) func() (map[string]any, error) {
		loan := fs.String("loan", "", "loan id")
		why := fs.String("why", "", "justification")
		return func() (map[string]any, error) {
			return need(map[string]any{"loan_id": *loan, "justification": *why}, "loan_id", "justification")
		}
	}},
	{name: "active", method: "GetUserActiveLoans", usage: "[-user <uuid>]", bind: func(fs *flag.FlagSet) func() (map[string]any, error) {
		user := fs.String("user", "", "user id (default: self)")
		return func() (map[string]any, error) {
			return optional(map[string]any{"user_id": *user}), nil
		}
	}},
	{name: "loans", method: "ListUserLoans", usage: "[-user <uuid>] [-status a,b]", bind: func(fs *flag.FlagSet) func() (map[string]any, error) {
		user := fs.String("user", "", "user id (default: self)")
		sts := fs.String("status", "", "comma separated statuses")
		return func() (map[string]any, error) {
			req := optional(map[string]any{"user_id": *user})
			if l := splitList(*sts); l != nil {
				req["statuses"] = l
			}
			return req, nil
		}
	}},
	{name: "by-status", method: "ListLoansByStatus", usage: "-status a,b                 (admin)", bind: func(fs *flag.FlagSet) func() (map[string]any, error) {
		sts := fs.String("status", "", "comma separated statuses")
		return func() (map[string]any, error) {
			l := splitList(*sts)
			if l == nil {
				return nil, errors.New("need -status")
			}
			return map[string]any{"statuses": l}, nil
		}
	}},
	{name: "pending", method: "ListPending", usage: "                            (admin)", bind: noFlags},
	{name: "resolve", method: "ResolvePending", usage: "-kind <k> -ref <uuid> -decision approve|reject [-notes]", bind: func(fs *flag.FlagSet) func() (map[string]any, error) {
		kind := fs.String("kind", "", "loan_request|return_request|renewal_request|payment")
		ref := fs.String("ref", "", "loan or sale id")
		decision := fs.String("decision", "", "approve|reject")
		notes := fs.String("notes", "", "admin notes")
		return func() (map[string]any, error) {
			return need(map[string]any{"kind": *kind, "ref_id": *ref, "decision": *decision, "notes": *notes}, "kind", "ref_id", "decision")
		}
	}},
	{name: "decide", method: "AdminDecide", usage: "-loan <uuid> -decision approve|reject [-notes]", bind: func(fs *flag.FlagSet) func() (map[string]any, error) {
		loan := fs.String("loan", "", "loan id")
		decision := fs.String("decision", "", "approve|reject")
		notes := fs.String("notes", "", "admin notes")
		return func() (map[string]any, error) {
			return need(map[string]any{"loan_id": *loan, "decision": *decision, "notes": *notes}, "loan_id", "decision")
		}
	}},
	{name: "lend", method: "AdminManualLoan", usage: "-user <uuid> -book <uuid> [-days n] [-notes]", bind: func(fs *flag.FlagSet) func() (map[string]any, error) {
		user := fs.String("user", "", "borrower id")
		book := fs.String("book", "", "book id")
		days := fs.Int("days", 0, "loan duration (default: settings)")
		notes := fs.String("notes", "", "admin notes")
		return func() (map[string]any, error) {
			return need(map[string]any{"user_id": *user, "book_id": *book, "duration_days": *days, "notes": *notes}, "user_id", "book_id")
		}
	}},
	{name: "receive", method: "AdminManualReturn", usage: "-loan <uuid> [-notes]", bind: func(fs *flag.FlagSet) func() (map[string]any, error) {
		loan := fs.String("loan", "", "loan id")
		notes := fs.String("notes", "", "admin notes")
		return func() (map[string]any, error) {
			return need(map[string]any{"loan_id": *loan, "notes": *notes}, "loan_id")
		}
	}},
	{name: "extend", method: "AdminRenew", usage: "-loan <uuid> [-notes] [-override <note>]", bind: func(fs *flag.FlagSet) func() (map[string]any, error) {
		loan := fs.String("loan", "", "loan id")
		notes := fs.String("notes", "", "admin notes")
		override := fs.String("override", "", "renew past the cap, with this note")
		return func() (map[string]any, error) {
			req := map[string]any{"loan_id": *loan, "notes": *notes}
			if *override != "" {
				req["override_note"] = *override
			}
			return need(req, "loan_id")
		}
	}},
	{name: "stock", method: "GetStock", usage: "-book <uuid>", bind: func(fs *flag.FlagSet) func() (map[string]any, error) {
		book := fs.String("book", "", "book id")
		return func() (map[string]any, error) {
			return need(map[string]any{"book_id": *book}, "book_id")
		}
	}},
	{name: "set-stock", method: "SetStock", usage: "-book <uuid> -loan n -sale n  (admin)", bind: func(fs *flag.FlagSet) func() (map[string]any, error) {
		book := fs.String("book", "", "book id")
		forLoan := fs.Int("loan", 0, "copies for loan")
		forSale := fs.Int("sale", 0, "copies for sale")
		return func() (map[string]any, error) {
			return need(map[string]any{"book_id": *book, "stock_for_loan": *forLoan, "stock_for_sale": *forSale}, "book_id")
		}
	}},
	{name: "sync", method: "SyncStock", usage: "[-book <uuid>]              (admin)", bind: func(fs *flag.FlagSet) func() (map[string]any, error) {
		book := fs.String("book", "", "book id (default: whole catalog)")
		return func() (map[string]any, error) {
			return optional(map[string]any{"book_id": *book}), nil
		}
	}},
	{name: "buy", method: "CreateSale", usage: "-book <uuid> -qty n -cents n", bind: func(fs *flag.FlagSet) func() (map[string]any, error) {
		book := fs.String("book", "", "book id")
		qty := fs.Int("qty", 1, "copies")
		cents := fs.Int64("cents", 0, "amount in cents")
		return func() (map[string]any, error) {
			return need(map[string]any{"book_id": *book, "quantity": *qty, "amount_cents": *cents}, "book_id")
		}
	}},
	{name: "settings", method: "GetSettings", usage: "", bind: noFlags},
	{name: "set-rules", method: "UpdateSettings", usage: "[-max-loans n] [-loan-days n] [-max-renewals n] [-renewal-days n]", bind: func(fs *flag.FlagSet) func() (map[string]any, error) {
		names := map[string]string{
			"max-loans":    "max_simultaneous_loans",
			"loan-days":    "loan_duration_days",
			"max-renewals": "max_renewals",
			"renewal-days": "renewal_duration_days",
		}
		vals := make(map[string]*int, len(names))
		for f := range names {
			vals[f] = fs.Int(f, 0, names[f])
		}
		return func() (map[string]any, error) {
			req := map[string]any{}
			// only flags given on the command line
			fs.Visit(func(f *flag.Flag) {
				if field, ok := names[f.Name]; ok {
					req[field] = *vals[f.Name]
				}
			})
			if len(req) == 0 {
				return nil, errors.New("nothing to update")
			}
			return req, nil
		}
	}},
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// parse reads args into the request of c.
func (c command) parse(args []string) (map[string]any, error) {
	fs := flag.NewFlagSet(c.name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	build := c.bind(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return build()
}

func noFlags(*flag.FlagSet) func() (map[string]any, error) {
	return func() (map[string]any, error) { return nil, nil }
}

// need fails when a required field is empty and drops empty optional strings.
func need(req map[string]any, required ...string) (map[string]any, error) {
	for _, k := range required {
		if s, ok := req[k].(string); ok && strings.TrimSpace(s) == "" {
			return nil, errors.New("need -" + flagOf(k))
		}
	}
	return optional(req), nil
}

// optional drops empty strings so the server applies its defaults.
func optional(req map[string]any) map[string]any {
	for k, v := range req {
		if s, ok := v.(string); ok && s == "" {
			delete(req, k)
		}
	}
	return req
}

func flagOf(field string) string {
	switch field {
	case "book_id":
		return "book"
	case "loan_id":
		return "loan"
	case "user_id":
		return "user"
	case "ref_id":
		return "ref"
	case "justification":
		return "why"
	}
	return field
}

func splitList(s string) []any {
	var out []any
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
