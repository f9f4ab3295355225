package branches

type BranchForm struct {
	Code      string   `json:"code" validate:"required,max=32"`
	Name      string   `json:"name" validate:"required,max=128"`
	Address   string   `json:"address"`
	Latitude  *float64 `json:"latitude" validate:"required_with=Longitude,omitempty,latitude"`
	Longitude *float64 `json:"longitude" validate:"required_with=Latitude,omitempty,longitude"`
	IsActive  *bool    `json:"is_active"`
}

func (f BranchForm) toBranch() Branch {
	b := Branch{
		Code:      f.Code,
		Name:      f.Name,
		Address:   f.Address,
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		IsActive:  true,
	}
	if f.IsActive != nil {
		b.IsActive = *f.IsActive
	}
	return b
}
