// Package mailer composes MIME messages and delivers them through an SMTP
// relay or one of the alternative engines (ses, graph, stdout, test).
//
// A Composer accumulates addresses, subject, bodies, headers and
// attachments through setters, then Render produces the message and Send
// delivers it with the configured account:
//
//	c, err := mailer.New(mailer.WithAccount(acct))
//	if err != nil { ... }
//	_ = c.To("james@example.com", "")
//	_ = c.From("mailer@example.com", "Mailer")
//	c.Subject("test #1")
//	c.TextBody("this is a test")
//	msg, err := c.Send(ctx, false)
//
// Setters for singular fields (From, Sender, ReplyTo, ReturnPath) replace
// the previous value; To, Cc and Bcc replace the whole list while AddTo,
// AddCc and AddBcc append. Invalid addresses are rejected by the setter and
// never stored.
//
// A Composer is not safe for concurrent use.
package mailer
