package email

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/meter_pay_server/config"
)

// Sender 发送 HTML 邮件，返回是否发送成功
type Sender interface {
	Send(to, subject, html string) bool
}

// NewSender smtp_host 为空时使用只记录日志的实现
func NewSender(cfg *config.EmailConfig, log logrus.FieldLogger) Sender {
	if cfg.SMTPHost == "" {
		return &LogSender{log: log}
	}
	return &SMTPSender{cfg: cfg, log: log}
}

type SMTPSender struct {
	cfg *config.EmailConfig
	log logrus.FieldLogger
}

func (s *SMTPSender) Send(to, subject, html string) bool {
	headers := [][2]string{
		{"From", s.cfg.From},
		{"To", to},
		{"Subject", subject},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
	}

	var msg strings.Builder
	for _, h := range headers {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", h[0], h[1]))
	}
	msg.WriteString("\r\n")
	msg.WriteString(html)

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)

	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg.String())); err != nil {
		s.log.WithFields(logrus.Fields{"to": to, "subject": subject}).WithError(err).Error("send email failed")
		return false
	}
	return true
}

// LogSender 开发环境使用，邮件内容写入日志
type LogSender struct {
	log logrus.FieldLogger
}

func (s *LogSender) Send(to, subject, html string) bool {
	s.log.WithFields(logrus.Fields{"to": to, "subject": subject}).Info("email (smtp disabled)")
	s.log.Debug(html)
	return true
}
