package models

// Category is the fixed set of market categories the generator may use.
type Category string

const (
	CategoryFriends    Category = "Friends"
	CategoryTonight    Category = "Tonight"
	CategoryWeekend    Category = "Weekend"
	CategoryPlans      Category = "Plans"
	CategoryAttendance Category = "Attendance"
	CategoryLogistics  Category = "Logistics"
	CategoryChaos      Category = "Chaos"
	CategoryOther      Category = "Other"
)

// AllCategories lists every valid category in display order.
var AllCategories = []Category{
	CategoryFriends,
	CategoryTonight,
	CategoryWeekend,
	CategoryPlans,
	CategoryAttendance,
	CategoryLogistics,
	CategoryChaos,
	CategoryOther,
}

// IsValid reports whether the category is a member of the fixed enum.
func (c Category) IsValid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}
