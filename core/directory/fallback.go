package directory

// FallbackContacts is the built-in directory shown when the live one is
// unreachable, so the messaging screen never renders empty. Kept deliberately
// small: the school's always-reachable front desks.
func FallbackContacts() []Contact {
	return []Contact{
		{ID: "school-office", Name: "School Office", Role: "admin", Email: "office@school.local"},
		{ID: "head-teacher", Name: "Head Teacher", Role: "teacher", Email: "headteacher@school.local"},
		{ID: "accounts-office", Name: "Accounts Office", Role: "admin", Email: "accounts@school.local"},
	}
}
