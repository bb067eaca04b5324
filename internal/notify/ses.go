package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// sesAPI is the subset of the SES client used here.
type sesAPI interface {
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

// SES emails the report with the error log attached.
type SES struct {
	client sesAPI
	from   string
	to     []string
}

// NewSES builds an SES notifier from the default AWS credential chain.
func NewSES(ctx context.Context, region, from string, to []string) (*SES, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, eris.Wrap(err, "notify: load aws config")
	}
	return newSESWithClient(ses.NewFromConfig(cfg), from, to), nil
}

func newSESWithClient(client sesAPI, from string, to []string) *SES {
	return &SES{client: client, from: from, to: to}
}

func (s *SES) Notify(ctx context.Context, r Report) error {
	if len(s.to) == 0 {
		return eris.New("notify: no recipients configured")
	}

	raw, err := buildMessage(s.from, s.to, r)
	if err != nil {
		return err
	}

	_, err = s.client.SendRawEmail(ctx, &ses.SendRawEmailInput{
		Source:       aws.String(s.from),
		Destinations: s.to,
		RawMessage:   &types.RawMessage{Data: raw},
	})
	if err != nil {
		return eris.Wrap(err, "notify: ses send raw email")
	}

	zap.L().Info("notify: report sent", zap.String("channel", "ses"), zap.Strings("to", s.to))
	return nil
}

// buildMessage renders a multipart/mixed message with an HTML body and, when
// the error log exists, the log as an attachment.
func buildMessage(from string, to []string, r Report) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", r.Subject()))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mw.Boundary())

	bodyPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=utf-8"},
	})
	if err != nil {
		return nil, eris.Wrap(err, "notify: create body part")
	}
	if _, err := bodyPart.Write([]byte(r.HTMLBody())); err != nil {
		return nil, eris.Wrap(err, "notify: write body part")
	}

	if r.ErrorLogPath != "" {
		data, err := os.ReadFile(r.ErrorLogPath)
		switch {
		case os.IsNotExist(err):
			// nothing was logged today
		case err != nil:
			return nil, eris.Wrapf(err, "notify: read attachment %s", r.ErrorLogPath)
		default:
			if err := attach(mw, filepath.Base(r.ErrorLogPath), data); err != nil {
				return nil, err
			}
		}
	}

	if err := mw.Close(); err != nil {
		return nil, eris.Wrap(err, "notify: close message")
	}
	return buf.Bytes(), nil
}

func attach(mw *multipart.Writer, name string, data []byte) error {
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {fmt.Sprintf("text/plain; name=%q", name)},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", name)},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return eris.Wrap(err, "notify: create attachment part")
	}

	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		if _, err := part.Write([]byte(enc[:76] + "\r\n")); err != nil {
			return eris.Wrap(err, "notify: write attachment")
		}
		enc = enc[76:]
	}
	if _, err := part.Write([]byte(enc)); err != nil {
		return eris.Wrap(err, "notify: write attachment")
	}
	return nil
}
