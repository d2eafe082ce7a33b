package models

type Subject struct {
	CommonName       string `json:"common_name" gorm:"column:common_name"`
	Organization     string `json:"organization" gorm:"column:organization"`
	OrganizationUnit string `json:"organization_unit" gorm:"column:organization_unit"`
	Country          string `json:"country" gorm:"column:country"`
	State            string `json:"state" gorm:"column:state"`
	Locality         string `json:"locality" gorm:"column:locality"`
}
