package flow

import (
	"time"

	"crispdesk/internal/domain"
	"crispdesk/internal/extract"
	"crispdesk/internal/intent"
)

// BuiltinConfig carries what the built-in flows depend on.
type BuiltinConfig struct {
	Directory   domain.UserDirectory
	BugReports  domain.BugReportSink // optional
	Extractor   *extract.Extractor
	OperatorID  string
	ExitKeyword string
	Timeout     time.Duration
	LongTimeout time.Duration // used while waiting for a pasted transaction message
}

// Builtin returns one flow for every flow name of the default catalog.
func Builtin(cfg BuiltinConfig) []Flow {
	return []Flow{
		&BugReport{Sink: cfg.BugReports, ExitKeyword: cfg.ExitKeyword, Timeout: cfg.Timeout},
		&AirtimeNotReceived{Extractor: cfg.Extractor, Timeout: cfg.LongTimeout},
		NewReply(intent.FlowCheckBalance, "Your current balance is 100 FCFA."),
		NewReply(intent.FlowPurchaseAirtime, "To purchase airtime, open the app, choose 'Airtime', enter the amount and confirm with your PIN."),
		NewReply(intent.FlowViewTransactions, "Here is your transaction history. You can see every transaction in the 'History' tab of the app."),
		&TalkToAgent{OperatorID: cfg.OperatorID},
		&FindUsers{Directory: cfg.Directory, Timeout: cfg.Timeout},
		&RecentPosts{Directory: cfg.Directory},
		&CountUsers{Directory: cfg.Directory},
		&ListUsers{Directory: cfg.Directory},
		&Inquiries{ExitKeyword: cfg.ExitKeyword, Timeout: cfg.Timeout},
	}
}
