package assistant

// Person is the record the extract command fills from free text.
type Person struct {
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	BirthDate Date     `json:"birthDate,omitempty"`
	Address   *Address `json:"address,omitempty"`
}

// Address is where a Person lives.
type Address struct {
	Street       string `json:"street,omitempty"`
	StreetNumber *int   `json:"streetNumber,omitempty"`
	City         string `json:"city,omitempty"`
}
