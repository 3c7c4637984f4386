package delivery

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"diet-plan-delivery/internal/document"
	"diet-plan-delivery/internal/nutrition"

	"github.com/PuerkitoBio/goquery"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

//go:embed mail_template.html
var mailTemplateHTML string

var mailTemplate = template.Must(template.New("mail").Parse(mailTemplateHTML))

// MailSubject is the subject of plan delivery emails.
const MailSubject = "Your Personalized Nutrition Plan - NutriPlan"

// SESAPI is the subset of the SES client used by MailChannel.
type SESAPI interface {
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

// MailChannel sends the document as an email attachment through SES.
type MailChannel struct {
	client  SESAPI
	from    string
	docs    DocumentSource
	timeout time.Duration
	now     func() time.Time
}

// NewMailChannel creates a MailChannel sending from the given address.
func NewMailChannel(client SESAPI, from string, docs DocumentSource, timeout time.Duration) *MailChannel {
	return &MailChannel{client: client, from: from, docs: docs, timeout: timeout, now: time.Now}
}

func (c *MailChannel) Kind() Kind       { return ViaMail }
func (c *MailChannel) Provider() string { return "ses" }

// Recipient returns the user's email address when it parses.
func (c *MailChannel) Recipient(attrs nutrition.UserAttributes) (string, bool) {
	addr, err := mail.ParseAddress(strings.TrimSpace(attrs.Email))
	if err != nil {
		return "", false
	}
	return addr.Address, true
}

// Deliver sends a single email with the document attached.
func (c *MailChannel) Deliver(ctx context.Context, recipient string, doc document.Handle, attrs nutrition.UserAttributes) (Receipt, error) {
	fail := func(err error) (Receipt, error) {
		return Receipt{}, &DeliveryError{Channel: ViaMail, Provider: c.Provider(), Err: err}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	data, err := c.docs.Fetch(ctx, doc)
	if err != nil {
		return fail(err)
	}

	htmlBody, textBody, err := renderMailBody(attrs)
	if err != nil {
		return fail(err)
	}

	raw, err := buildRawEmail(rawEmail{
		From:       c.from,
		To:         recipient,
		Subject:    MailSubject,
		Date:       c.now(),
		Text:       textBody,
		HTML:       htmlBody,
		FileName:   AttachmentName,
		Attachment: data,
	})
	if err != nil {
		return fail(err)
	}

	out, err := c.client.SendRawEmail(ctx, &ses.SendRawEmailInput{
		Source:       aws.String(c.from),
		Destinations: []string{recipient},
		RawMessage:   &types.RawMessage{Data: raw},
	})
	if err != nil {
		return fail(fmt.Errorf("email send failed: %w", err))
	}

	return Receipt{
		Channel:   ViaMail,
		Provider:  c.Provider(),
		Recipient: recipient,
		MessageID: aws.ToString(out.MessageId),
		SentAt:    c.now(),
	}, nil
}

func renderMailBody(attrs nutrition.UserAttributes) (string, string, error) {
	var buf bytes.Buffer
	err := mailTemplate.Execute(&buf, struct {
		Name string
		Goal string
	}{
		Name: attrs.DisplayName(),
		Goal: strings.ReplaceAll(string(attrs.Goal), "-", " "),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to render mail template: %w", err)
	}
	htmlBody := buf.String()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse mail template: %w", err)
	}

	var paragraphs []string
	doc.Find("h2, p").Each(func(_ int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	return htmlBody, strings.Join(paragraphs, "\n\n"), nil
}

type rawEmail struct {
	From       string
	To         string
	Subject    string
	Date       time.Time
	Text       string
	HTML       string
	FileName   string
	Attachment []byte
}

// buildRawEmail assembles a multipart/mixed message holding a text/HTML
// alternative body and one PDF attachment.
func buildRawEmail(m rawEmail) ([]byte, error) {
	var alt bytes.Buffer
	altWriter := multipart.NewWriter(&alt)
	for _, body := range []struct{ contentType, content string }{
		{"text/plain; charset=UTF-8", m.Text},
		{"text/html; charset=UTF-8", m.HTML},
	} {
		part, err := altWriter.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {body.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(part)
		if _, err := qp.Write([]byte(body.content)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := altWriter.Close(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mixed := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", m.From)
	fmt.Fprintf(&buf, "To: %s\r\n", m.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", m.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", m.Date.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixed.Boundary())

	altPart, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type": {fmt.Sprintf("multipart/alternative; boundary=%q", altWriter.Boundary())},
	})
	if err != nil {
		return nil, err
	}
	if _, err := altPart.Write(alt.Bytes()); err != nil {
		return nil, err
	}

	filePart, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {mime.FormatMediaType(document.ContentTypePDF, map[string]string{"name": m.FileName})},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": m.FileName})},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64Lines(filePart, m.Attachment); err != nil {
		return nil, err
	}

	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeBase64Lines writes data base64 encoded in 76 character lines.
func writeBase64Lines(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 0 {
		n := 76
		if len(encoded) < n {
			n = len(encoded)
		}
		if _, err := w.Write([]byte(encoded[:n] + "\r\n")); err != nil {
			return err
		}
		encoded = encoded[n:]
	}
	return nil
}
