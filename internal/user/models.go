package user

// User mirrors the platform's user directory row. Accounts are managed by
// the account service; the messaging core only reads them.
type User struct {
	ID       string `gorm:"primaryKey;size:36" json:"userId"`
	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Skin     string `json:"skin"`
}

func (User) TableName() string { return "users" }
