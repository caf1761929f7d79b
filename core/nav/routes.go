package nav

import "strings"

// Role home and login paths. These mirror the web client's routing table;
// the exact strings are part of the interop contract with the views.
const (
	ParentHome  = "/dashboard"
	TeacherHome = "/teacher-dashboard"
	AdminHome   = "/admin-dashboard"

	ParentLogin  = "/login"
	TeacherLogin = "/teacher-login"
	AdminLogin   = "/admin-login"

	Unauthorized = "/unauthorized"
)

// routeClass buckets private paths by the role they require.
type routeClass int

const (
	classDefault routeClass = iota // unlisted private path
	classAdminOnly
	classTeacherOrAdmin
	classParentOnly
	classCommon // allowed for any authenticated role
	classRoot
	classPublic // login pages
)

var (
	adminOnlyPrefixes = []string{
		"/admin-dashboard",
		"/admin-reports",
		"/manage-teachers",
		"/manage-parents",
		"/payment-approvals",
	}
	teacherOrAdminPrefixes = []string{
		"/teacher-dashboard",
		"/homework-review",
		"/grade-homework",
		"/lesson-upload",
		"/class-reports",
	}
	parentOnlyPrefixes = []string{
		"/dashboard",
		"/homework",
		"/lessons",
		"/payments",
		"/reports",
	}
	commonPrefixes = []string{
		"/messages",
		"/notifications",
	}
	publicPrefixes = []string{
		ParentLogin,
		TeacherLogin,
		AdminLogin,
		"/register",
		"/forgot-password",
	}
)

func classify(path string) routeClass {
	if path == "" || path == "/" {
		return classRoot
	}
	switch {
	case matchesAny(path, publicPrefixes):
		return classPublic
	case matchesAny(path, commonPrefixes):
		return classCommon
	case matchesAny(path, adminOnlyPrefixes):
		return classAdminOnly
	case matchesAny(path, teacherOrAdminPrefixes):
		return classTeacherOrAdmin
	case matchesAny(path, parentOnlyPrefixes):
		return classParentOnly
	default:
		return classDefault
	}
}

func matchesAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
