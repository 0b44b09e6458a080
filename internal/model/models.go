package model

// All 需要迁移的全部模型
func All() []interface{} {
	return []interface{}{
		&User{},
		&ClassSession{},
		&Attendance{},
		&MembershipType{},
		&Membership{},
		&ClassPass{},
		&PaymentTransaction{},
		&EmailLog{},
	}
}
