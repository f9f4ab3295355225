package products

type ProductForm struct {
	Code     string  `json:"code" validate:"required,max=64"`
	Name     string  `json:"name" validate:"required,max=255"`
	Price    float64 `json:"price" validate:"gte=0"`
	IsActive *bool   `json:"is_active"`
}

func (f ProductForm) toProduct() Product {
	p := Product{Code: f.Code, Name: f.Name, Price: f.Price, IsActive: true}
	if f.IsActive != nil {
		p.IsActive = *f.IsActive
	}
	return p
}

type VariantForm struct {
	SKU  string `json:"sku" validate:"required,max=64"`
	Name string `json:"name" validate:"required,max=128"`
}

type variantResponse struct {
	Variant     Variant `json:"variant"`
	Initialized int     `json:"initialized_branches"`
}
