package protocol

// SMTPClient is built on net/smtp and mime/multipart rather than an
// ecosystem mail library: nothing in the retrieved example corpus
// (rclone-rclone, moby-moby, or the rest of the pack) imports a third-
// party SMTP/MIME client — rclone's backend/mailru talks to a
// proprietary cloud API, not SMTP, and none of the other repos send
// mail at all. This component is therefore built directly on the
// standard library; see DESIGN.md for the justification.

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/holger-afd/afd-transfer/internal/aerrors"
	"github.com/holger-afd/afd-transfer/internal/afdexit"
)

// SMTPOptions configures an SMTPClient (the SMTP-relevant subset of a
// merged Job Descriptor, spec §3.4).
type SMTPOptions struct {
	Host     string
	Port     string
	From     string
	To       []string
	User     string
	Pass     string
	UseAuth  bool
	UseTLS   bool
	Timeout  time.Duration
}

// SMTPClient implements SendClient over net/smtp.
type SMTPClient struct {
	opt  SMTPOptions
	conn *smtp.Client
}

// NewSMTPClient builds an SMTPClient; dialing happens in Connect.
func NewSMTPClient(opt SMTPOptions) *SMTPClient {
	return &SMTPClient{opt: opt}
}

func (c *SMTPClient) addr() string {
	return fmt.Sprintf("%s:%s", c.opt.Host, c.opt.Port)
}

// Connect dials, optionally upgrades to TLS, and authenticates.
func (c *SMTPClient) Connect(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: c.opt.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr())
	if err != nil {
		return aerrors.Wrap(aerrors.KindNetworkTransient, afdexit.ConnectError, err)
	}
	client, err := smtp.NewClient(conn, c.opt.Host)
	if err != nil {
		_ = conn.Close()
		return aerrors.Wrap(aerrors.KindNetworkTransient, afdexit.ConnectError, err)
	}
	if c.opt.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: c.opt.Host}); err != nil {
			_ = client.Close()
			return aerrors.Wrap(aerrors.KindProtocol, afdexit.ConnectError, err)
		}
	}
	if c.opt.UseAuth {
		auth := smtp.PlainAuth("", c.opt.User, c.opt.Pass, c.opt.Host)
		if err := client.Auth(auth); err != nil {
			_ = client.Close()
			return aerrors.Wrap(aerrors.KindProtocol, afdexit.AuthError, err)
		}
	}
	c.conn = client
	return nil
}

// Send transmits one outgoing job as a single MIME multipart message.
// When attachAll is false only the first attachment is sent, still as a
// base64 attachment part, matching ATTACH_ALL_FILES off (spec §4.5
// step 4).
func (c *SMTPClient) Send(ctx context.Context, subject string, attachments []Attachment, attachAll bool) error {
	if len(attachments) == 0 {
		return aerrors.Wrap(aerrors.KindLocalIO, afdexit.DataError, fmt.Errorf("no attachments for job"))
	}
	if !attachAll {
		attachments = attachments[:1]
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("From", c.opt.From)
	for _, rcpt := range c.opt.To {
		header.Add("To", rcpt)
	}
	header.Set("Subject", mime.QEncoding.Encode("utf-8", subject))
	header.Set("MIME-Version", "1.0")
	header.Set("Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", mw.Boundary()))

	for _, a := range attachments {
		if err := c.writePart(mw, a); err != nil {
			return aerrors.Wrap(aerrors.KindLocalIO, afdexit.ReadLocalError, err)
		}
	}
	if err := mw.Close(); err != nil {
		return aerrors.Wrap(aerrors.KindLocalIO, afdexit.WriteLocalError, err)
	}

	if err := c.conn.Mail(c.opt.From); err != nil {
		return aerrors.Wrap(aerrors.KindProtocol, afdexit.RemoteUserError, err)
	}
	for _, rcpt := range c.opt.To {
		if err := c.conn.Rcpt(rcpt); err != nil {
			return aerrors.Wrap(aerrors.KindProtocol, afdexit.RemoteUserError, err)
		}
	}
	w, err := c.conn.Data()
	if err != nil {
		return aerrors.Wrap(aerrors.KindNetworkTransient, afdexit.WriteRemoteError, err)
	}
	defer func() { _ = w.Close() }()

	if err := writeHeader(w, header); err != nil {
		return aerrors.Wrap(aerrors.KindNetworkTransient, afdexit.WriteRemoteError, err)
	}
	if _, err := io.Copy(w, &buf); err != nil {
		return aerrors.Wrap(aerrors.KindNetworkTransient, afdexit.WriteRemoteError, err)
	}
	return nil
}

func (c *SMTPClient) writePart(mw *multipart.Writer, a Attachment) error {
	f, err := os.Open(a.Path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Transfer-Encoding", "base64")
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filepath.Base(a.Name)))
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	enc := base64.NewEncoder(base64.StdEncoding, &lineWrapper{w: part, width: 76})
	if _, err := io.Copy(enc, f); err != nil {
		return err
	}
	return enc.Close()
}

// lineWrapper inserts a CRLF every width bytes written, the
// line-length discipline RFC 2045 requires of base64 MIME bodies.
type lineWrapper struct {
	w     io.Writer
	width int
	col   int
}

func (l *lineWrapper) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := l.width - l.col
		if n > len(p) {
			n = len(p)
		}
		if _, err := l.w.Write(p[:n]); err != nil {
			return written, err
		}
		written += n
		p = p[n:]
		l.col += n
		if l.col == l.width {
			if _, err := l.w.Write([]byte("\r\n")); err != nil {
				return written, err
			}
			l.col = 0
		}
	}
	return written, nil
}

// Quit closes the session.
func (c *SMTPClient) Quit(ctx context.Context) error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Quit()
	c.conn = nil
	if err != nil {
		return aerrors.Wrap(aerrors.KindNetworkTransient, afdexit.CloseRemoteError, err)
	}
	return nil
}

func writeHeader(w io.Writer, h textproto.MIMEHeader) error {
	for k, vs := range h {
		for _, v := range vs {
			if _, err := fmt.Fprintf(w, "%s: %s\r\n", k, v); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprint(w, "\r\n")
	return err
}
