package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrorKind 业务错误分类，handler 按分类映射 HTTP 状态码
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindInvalidState
	KindConflict
	KindCapacityExceeded
	KindUnauthorized
	KindForbidden
	KindEntitlementExhausted
	KindGateway
	KindPersistence
)

var kindNames = map[ErrorKind]string{
	KindInternal:             "Internal",
	KindNotFound:             "NotFound",
	KindInvalidState:         "InvalidState",
	KindConflict:             "Conflict",
	KindCapacityExceeded:     "CapacityExceeded",
	KindUnauthorized:         "Unauthorized",
	KindForbidden:            "Forbidden",
	KindEntitlementExhausted: "EntitlementExhausted",
	KindGateway:              "GatewayError",
	KindPersistence:          "PersistenceError",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error 带分类的业务错误
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// invalidf 参数或状态校验失败
func invalidf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// persistence 包装存储层错误
func persistence(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return err
	}
	return &Error{Kind: KindPersistence, Message: "数据存储失败", Err: err}
}

// notFoundOr 记录不存在时返回 notFound，其余错误视为存储错误
func notFoundOr(err error, notFound *Error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return persistence(err)
}

// KindOf 取错误分类，非业务错误归为 KindInternal
func KindOf(err error) ErrorKind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}

// isBusinessError 业务规则拒绝（非基础设施故障）
func isBusinessError(err error) bool {
	switch KindOf(err) {
	case KindNotFound, KindInvalidState, KindConflict, KindCapacityExceeded, KindEntitlementExhausted:
		return true
	}
	return false
}

var (
	ErrUnauthorized = newError(KindUnauthorized, "请先登录")
	ErrForbidden    = newError(KindForbidden, "权限不足")

	ErrUserNotFound           = newError(KindNotFound, "用户不存在")
	ErrClassNotFound          = newError(KindNotFound, "课程不存在")
	ErrMembershipTypeNotFound = newError(KindNotFound, "会员类型不存在")
	ErrMembershipNotFound     = newError(KindNotFound, "会员记录不存在")
	ErrBookingNotFound        = newError(KindNotFound, "预约记录不存在")
	ErrTransactionNotFound    = newError(KindNotFound, "交易不存在")
	ErrEmailLogNotFound       = newError(KindNotFound, "邮件记录不存在")

	ErrEmailExists        = newError(KindConflict, "邮箱已被注册")
	ErrInvalidCredentials = newError(KindUnauthorized, "邮箱或密码错误")

	ErrClassInactive         = newError(KindInvalidState, "课程未开放")
	ErrClassStarted          = newError(KindInvalidState, "不能预约已开始的课程")
	ErrOutsideCheckInWindow  = newError(KindInvalidState, "不在签到时间范围内")
	ErrCancelCutoff          = newError(KindInvalidState, "已超过取消截止时间")
	ErrCheckedInCannotCancel = newError(KindInvalidState, "已签到的预约不能取消")
	ErrAlreadyBooked         = newError(KindConflict, "已预约该课程")
	ErrAlreadyCheckedIn      = newError(KindConflict, "已签到")
	ErrClassHasAttendances   = newError(KindConflict, "课程已有预约，不能删除")
	ErrCapacityBelowBooked   = newError(KindConflict, "容量不能低于已预约人数")
	ErrClassFull             = newError(KindCapacityExceeded, "课程已满员")

	ErrMembershipTypeInactive = newError(KindInvalidState, "会员类型已停用")
	ErrMembershipExpired      = newError(KindInvalidState, "会员已过期")
	ErrMembershipActiveExists = newError(KindConflict, "已有该类型的有效会员")
	ErrSelfApplyDisabled      = newError(KindForbidden, "会员需通过支付开通")
	ErrEntitlementExhausted   = newError(KindEntitlementExhausted, "剩余课次不足")
	ErrNoEntitlement          = newError(KindEntitlementExhausted, "没有可用的会员或课包")

	ErrPaymentsDisabled     = newError(KindInvalidState, "在线支付未开启")
	ErrInvalidPaymentType   = newError(KindInvalidState, "不支持的支付类型")
	ErrPaymentNotAllowed    = newError(KindInvalidState, "该课程不支持此购买方式")
	ErrInvalidPaymentAmount = newError(KindInvalidState, "支付金额必须大于 0")
	ErrGateway              = newError(KindGateway, "支付服务暂不可用")
)

// gatewayError 包装网关错误
func gatewayError(err error) error {
	return &Error{Kind: KindGateway, Message: ErrGateway.Message, Err: err}
}
