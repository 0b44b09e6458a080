package email

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind 通知模板类型
type Kind string

const (
	KindWelcomeRegistered   Kind = "WelcomeRegistered"
	KindPaymentConfirmed    Kind = "PaymentConfirmed"
	KindMembershipActivated Kind = "MembershipActivated"
	KindMembershipAssigned  Kind = "MembershipAssigned"
	KindBookingConfirmed    Kind = "BookingConfirmed"
	KindTest                Kind = "Test"
)

// Token 模板占位符，模板中写作 {Token}
type Token string

const (
	TokenGymName            Token = "GymName"
	TokenUserName           Token = "UserName"
	TokenPaymentDescription Token = "PaymentDescription"
	TokenPaymentAmount      Token = "PaymentAmount"
	TokenTransactionID      Token = "TransactionId"
	TokenMembershipType     Token = "MembershipType"
	TokenStartDate          Token = "StartDate"
	TokenEndDate            Token = "EndDate"
	TokenClassCount         Token = "ClassCount"
	TokenClassName          Token = "ClassName"
	TokenClassStart         Token = "ClassStart"
	TokenInstructor         Token = "Instructor"
	TokenSentAt             Token = "SentAt"
)

// Vars 占位符到取值的映射
type Vars map[Token]string

// Message 渲染后的邮件
type Message struct {
	Subject string
	Body    string
}

var (
	ErrUnknownKind  = errors.New("unknown notification kind")
	ErrMissingToken = errors.New("missing template token")
)

const dateLayout = "January 02, 2006"

type template struct {
	subject  string
	body     string
	required []Token
}

var templates = map[Kind]template{
	KindWelcomeRegistered: {
		subject: "Welcome to {GymName}!",
		body: `<h2>Welcome to {GymName}!</h2>
<p>Hi {UserName},</p>
<p>Your account is ready. Browse the class calendar and book your first session.</p>`,
		required: []Token{TokenGymName, TokenUserName},
	},
	KindPaymentConfirmed: {
		subject: "Payment Confirmation - {GymName}",
		body: `<h2>Payment received</h2>
<p>Hi {UserName},</p>
<p>We received your payment for <strong>{PaymentDescription}</strong>.</p>
<p>Amount: ${PaymentAmount}<br>Transaction: {TransactionId}</p>`,
		required: []Token{TokenGymName, TokenUserName, TokenPaymentDescription, TokenPaymentAmount, TokenTransactionID},
	},
	KindMembershipActivated: {
		subject: "Your Membership is Active!",
		body: `<h2>Your {MembershipType} membership is active</h2>
<p>Hi {UserName},</p>
<p>Start date: {StartDate}<br>End date: {EndDate}<br>Classes: {ClassCount}</p>
<p>See you at {GymName}!</p>`,
		required: []Token{TokenGymName, TokenUserName, TokenMembershipType, TokenStartDate, TokenEndDate, TokenClassCount},
	},
	KindMembershipAssigned: {
		subject: "A membership was added to your account - {GymName}",
		body: `<h2>{MembershipType}</h2>
<p>Hi {UserName},</p>
<p>{GymName} added a {MembershipType} membership to your account.</p>
<p>Start date: {StartDate}<br>End date: {EndDate}<br>Classes: {ClassCount}</p>`,
		required: []Token{TokenGymName, TokenUserName, TokenMembershipType, TokenStartDate, TokenEndDate, TokenClassCount},
	},
	KindBookingConfirmed: {
		subject: "Class Booking Confirmed - {GymName}",
		body: `<h2>You're booked!</h2>
<p>Hi {UserName},</p>
<p>{ClassName} with {Instructor} on {ClassStart}.</p>`,
		required: []Token{TokenGymName, TokenUserName, TokenClassName, TokenClassStart, TokenInstructor},
	},
	KindTest: {
		subject: "Test Email from {GymName}",
		body: `<h2>Email delivery works</h2>
<p>This test message was sent by {GymName} at {SentAt}.</p>`,
		required: []Token{TokenGymName, TokenSentAt},
	},
}

// Kinds 全部通知类型
func Kinds() []Kind {
	return []Kind{
		KindWelcomeRegistered,
		KindPaymentConfirmed,
		KindMembershipActivated,
		KindMembershipAssigned,
		KindBookingConfirmed,
		KindTest,
	}
}

// Render 用变量渲染模板，缺少必需占位符时报错
func Render(kind Kind, vars Vars) (*Message, error) {
	tpl, ok := templates[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	for _, token := range tpl.required {
		if _, ok := vars[token]; !ok {
			return nil, fmt.Errorf("%w: %s requires {%s}", ErrMissingToken, kind, token)
		}
	}

	subjectPairs := make([]string, 0, len(vars)*2)
	bodyPairs := make([]string, 0, len(vars)*2)
	for token, value := range vars {
		placeholder := "{" + string(token) + "}"
		subjectPairs = append(subjectPairs, placeholder, value)
		bodyPairs = append(bodyPairs, placeholder, html.EscapeString(value))
	}

	return &Message{
		Subject: strings.NewReplacer(subjectPairs...).Replace(tpl.subject),
		Body:    strings.NewReplacer(bodyPairs...).Replace(tpl.body),
	}, nil
}

// FormatAmount 金额保留两位小数
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// FormatDate 日期格式，如 January 02, 2006
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// FormatEndDate 结束日期，为空表示永久有效
func FormatEndDate(t *time.Time) string {
	if t == nil {
		return "No expiration"
	}
	return FormatDate(*t)
}

// FormatClassCount 课次，为空表示不限
func FormatClassCount(count *int) string {
	if count == nil {
		return "Unlimited"
	}
	return fmt.Sprintf("%d", *count)
}

// FormatClassStart 上课时间
func FormatClassStart(t time.Time) string {
	return t.Format("Monday, January 02, 2006 at 15:04 MST")
}
