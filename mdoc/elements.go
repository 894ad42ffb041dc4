package mdoc

import "fmt"

// ISO_IEC_18013-5_2021(en).pdf 7.2

const (
	DocTypeMDL DocType = "org.iso.18013.5.1.mDL"
	DocTypePID DocType = "eu.europa.ec.eudi.pid.1"

	NameSpaceMDL NameSpace = "org.iso.18013.5.1"
	NameSpacePID NameSpace = "eu.europa.ec.eudi.pid.1"
)

type Element struct {
	NameSpace NameSpace
	Name      ElementIdentifier
}

func (e Element) Identifier(docType DocType) AttributeIdentifier {
	return AttributeIdentifier{
		DocType:   docType,
		NameSpace: e.NameSpace,
		Attribute: e.Name,
	}
}

func mdlElement(name ElementIdentifier) Element {
	return Element{NameSpace: NameSpaceMDL, Name: name}
}

var (
	EUFamilyName = Element{NameSpace: NameSpacePID, Name: "family_name"}
	EUGivenName  = Element{NameSpace: NameSpacePID, Name: "given_name"}
	EUBirthDate  = Element{NameSpace: NameSpacePID, Name: "birth_date"}

	FamilyName           = mdlElement("family_name")
	GivenName            = mdlElement("given_name")
	BirthDate            = mdlElement("birth_date")
	IssueDate            = mdlElement("issue_date")
	ExpiryDate           = mdlElement("expiry_date")
	IssuingCountry       = mdlElement("issuing_country")
	IssuingAuthority     = mdlElement("issuing_authority")
	DocumentNumber       = mdlElement("document_number")
	Portrait             = mdlElement("portrait")
	DrivingPrivileges    = mdlElement("driving_privileges")
	UnDistinguishingSign = mdlElement("un_distinguishing_sign")
	AdministrativeNumber = mdlElement("administrative_number")
	Sex                  = mdlElement("sex")
	Height               = mdlElement("height")
	Weight               = mdlElement("weight")
	EyeColour            = mdlElement("eye_colour")
	HairColour           = mdlElement("hair_colour")
	BirthPlace           = mdlElement("birth_place")
	ResidentAddress      = mdlElement("resident_address")
	AgeInYears           = mdlElement("age_in_years")
	AgeBirthYear         = mdlElement("age_birth_year")
	IssuingJurisdiction  = mdlElement("issuing_jurisdiction")
	Nationality          = mdlElement("nationality")
	ResidentCity         = mdlElement("resident_city")
	ResidentCountry      = mdlElement("resident_country")
)

func AgeOver(age int) (Element, error) {
	if age < 0 || age > 99 {
		return Element{}, fmt.Errorf("unsupported range of age: %v", age)
	}
	return mdlElement(ElementIdentifier(fmt.Sprintf("age_over_%d", age))), nil
}
