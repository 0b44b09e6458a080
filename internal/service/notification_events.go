package service

import (
	"github.com/qs3c/studio_go_server/internal/model"
	"github.com/qs3c/studio_go_server/internal/pkg/email"
)

func welcomeEvent(user *model.User) *NotificationEvent {
	return &NotificationEvent{
		Kind:    email.KindWelcomeRegistered,
		UserID:  &user.ID,
		ToEmail: user.Email,
		Vars: email.Vars{
			email.TokenUserName: user.FullName,
		},
	}
}

func paymentConfirmedEvent(user *model.User, txn *model.PaymentTransaction) *NotificationEvent {
	return &NotificationEvent{
		Kind:    email.KindPaymentConfirmed,
		UserID:  &user.ID,
		ToEmail: user.Email,
		Vars: email.Vars{
			email.TokenUserName:           user.FullName,
			email.TokenPaymentDescription: txn.Description,
			email.TokenPaymentAmount:      email.FormatAmount(txn.Amount),
			email.TokenTransactionID:      txn.Reference,
		},
	}
}

// membershipEvent kind 为 MembershipActivated 或 MembershipAssigned
func membershipEvent(kind email.Kind, user *model.User, m *model.Membership, mt *model.MembershipType) *NotificationEvent {
	return &NotificationEvent{
		Kind:    kind,
		UserID:  &user.ID,
		ToEmail: user.Email,
		Vars: email.Vars{
			email.TokenUserName:       user.FullName,
			email.TokenMembershipType: mt.Name,
			email.TokenStartDate:      email.FormatDate(m.StartDate),
			email.TokenEndDate:        email.FormatEndDate(m.EndDate),
			email.TokenClassCount:     email.FormatClassCount(m.RemainingClasses),
		},
	}
}

func bookingConfirmedEvent(user *model.User, class *model.ClassSession) *NotificationEvent {
	return &NotificationEvent{
		Kind:    email.KindBookingConfirmed,
		UserID:  &user.ID,
		ToEmail: user.Email,
		Vars: email.Vars{
			email.TokenUserName:   user.FullName,
			email.TokenClassName:  class.Name,
			email.TokenClassStart: email.FormatClassStart(class.StartTime),
			email.TokenInstructor: class.InstructorName,
		},
	}
}
