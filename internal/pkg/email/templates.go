package email

import (
	"fmt"
)

const layout = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
%s
        <hr style="border: none; border-top: 1px solid #e5e7eb; margin: 20px 0;">
        <p style="color: #6b7280; font-size: 12px;">此邮件由系统自动发送，请勿回复。</p>
    </div>
</body>
</html>
`

const codeBlock = `<div style="background-color: #f3f4f6; padding: 15px; text-align: center; font-size: 24px; font-weight: bold; letter-spacing: 5px; margin: 20px 0;">%s</div>`

// VerificationCode 注册验证码邮件
func VerificationCode(siteName, code string, validMinutes int) (subject, html string) {
	subject = fmt.Sprintf("验证码 - %s", siteName)
	body := fmt.Sprintf(`        <h2 style="color: #2563eb;">邮箱验证</h2>
        <p>您好，</p>
        <p>您正在注册 %s 账号，验证码为：</p>
        `+codeBlock+`
        <p>验证码有效期为 %d 分钟，请尽快完成验证。</p>
        <p>如果您没有进行此操作，请忽略此邮件。</p>`, siteName, code, validMinutes)
	return subject, fmt.Sprintf(layout, body)
}

// PasswordResetCode 找回密码验证码邮件
func PasswordResetCode(siteName, code string, validMinutes int) (subject, html string) {
	subject = fmt.Sprintf("密码重置 - %s", siteName)
	body := fmt.Sprintf(`        <h2 style="color: #2563eb;">密码重置</h2>
        <p>您好，</p>
        <p>您正在重置 %s 账号的密码，验证码为：</p>
        `+codeBlock+`
        <p>验证码有效期为 %d 分钟。</p>
        <p>如果您没有请求重置密码，请忽略此邮件。</p>`, siteName, code, validMinutes)
	return subject, fmt.Sprintf(layout, body)
}

// Welcome 注册成功邮件
func Welcome(siteName, email string, calls int) (subject, html string) {
	subject = fmt.Sprintf("欢迎加入 - %s", siteName)
	body := fmt.Sprintf(`        <h2 style="color: #2563eb;">欢迎加入！</h2>
        <p>您好，%s！</p>
        <p>感谢您注册 %s，您的账户已获得 <strong>%d</strong> 次免费分析次数。</p>
        <p>邀请好友注册可以获得更多次数。</p>`, email, siteName, calls)
	return subject, fmt.Sprintf(layout, body)
}
