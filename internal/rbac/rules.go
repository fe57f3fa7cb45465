package rbac

// WriteRoleMarkers are the LIS role fragments that grant write access to
// content. A role claim matches when it contains a marker anywhere, so the
// full vocabulary URI and the short form both count:
//
//	http://purl.imsglobal.org/vocab/lis/v2/membership#Instructor
//	membership#Instructor
var WriteRoleMarkers = []string{
	"membership#Administrator",
	"membership#ContentDeveloper",
	"membership#Instructor",
	"membership#Mentor",
	"membership#Manager",
	"membership#Officer",
}
