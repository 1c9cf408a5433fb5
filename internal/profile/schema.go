package profile

import "strings"

// SchemaVersion identifies the attribute set below. Bump it whenever an
// attribute is renamed or removed.
const SchemaVersion = "1"

// ValueKind tells how an attribute value is shaped.
type ValueKind int

const (
	KindText ValueKind = iota
	KindDate
	KindList
	KindRecords
	KindFile
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindDate:
		return "date"
	case KindList:
		return "list"
	case KindRecords:
		return "records"
	case KindFile:
		return "file"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Attribute is one entry of the fixed profile schema.
type Attribute struct {
	Name     string
	Synonyms []string
	Kind     ValueKind
	// Fields describes the sub-attributes of a records attribute.
	Fields []Attribute
}

// Field returns the sub-attribute with the given name.
func (a Attribute) Field(name string) (Attribute, bool) {
	for _, f := range a.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Attribute{}, false
}

const (
	AttrFullName           = "full_name"
	AttrFirstName          = "first_name"
	AttrLastName           = "last_name"
	AttrEmail              = "email"
	AttrPhone              = "phone"
	AttrLocation           = "location"
	AttrHeadline           = "headline"
	AttrSummary            = "summary"
	AttrLinkedInURL        = "linkedin_url"
	AttrWebsite            = "website"
	AttrCurrentTitle       = "current_title"
	AttrCurrentCompany     = "current_company"
	AttrSkills             = "skills"
	AttrLanguages          = "languages"
	AttrCertifications     = "certifications"
	AttrWorkExperience     = "work_experience"
	AttrEducation          = "education"
	AttrWillingToRelocate  = "willing_to_relocate"
	AttrAuthorizedToWork   = "authorized_to_work"
	AttrRequireSponsorship = "requires_sponsorship"
	AttrResumeFile         = "resume_file"
)

var schema = []Attribute{
	{Name: AttrFullName, Kind: KindText, Synonyms: []string{"full name", "name", "your name", "legal name", "candidate name"}},
	{Name: AttrFirstName, Kind: KindText, Synonyms: []string{"first name", "given name", "forename"}},
	{Name: AttrLastName, Kind: KindText, Synonyms: []string{"last name", "surname", "family name"}},
	{Name: AttrEmail, Kind: KindText, Synonyms: []string{"email", "email address", "e-mail", "mail"}},
	{Name: AttrPhone, Kind: KindText, Synonyms: []string{"phone", "phone number", "mobile", "telephone", "cell", "contact number"}},
	{Name: AttrLocation, Kind: KindText, Synonyms: []string{"location", "city", "current location", "address", "where are you based"}},
	{Name: AttrHeadline, Kind: KindText, Synonyms: []string{"headline", "professional title", "tagline"}},
	{Name: AttrSummary, Kind: KindText, Synonyms: []string{"summary", "about", "about you", "bio", "cover letter", "introduction"}},
	{Name: AttrLinkedInURL, Kind: KindText, Synonyms: []string{"linkedin", "linkedin url", "linkedin profile"}},
	{Name: AttrWebsite, Kind: KindText, Synonyms: []string{"website", "personal website", "homepage", "blog"}},
	{Name: AttrCurrentTitle, Kind: KindText, Synonyms: []string{"current title", "job title", "current position", "current role"}},
	{Name: AttrCurrentCompany, Kind: KindText, Synonyms: []string{"current company", "current employer", "employer", "company"}},
	{Name: AttrSkills, Kind: KindList, Synonyms: []string{"skills", "key skills", "technical skills", "competencies"}},
	{Name: AttrLanguages, Kind: KindList, Synonyms: []string{"languages", "spoken languages", "language"}},
	{Name: AttrCertifications, Kind: KindList, Synonyms: []string{"certifications", "certificates", "licenses"}},
	{Name: AttrWorkExperience, Kind: KindRecords, Synonyms: []string{"experience", "work experience", "employment history"}, Fields: []Attribute{
		{Name: "title", Kind: KindText, Synonyms: []string{"job title", "title", "position", "role"}},
		{Name: "company", Kind: KindText, Synonyms: []string{"company", "employer", "organization", "company name"}},
		{Name: "location", Kind: KindText, Synonyms: []string{"location", "city"}},
		{Name: "start_date", Kind: KindDate, Synonyms: []string{"start date", "from", "started"}},
		{Name: "end_date", Kind: KindDate, Synonyms: []string{"end date", "to", "until"}},
		{Name: "description", Kind: KindText, Synonyms: []string{"description", "responsibilities", "achievements"}},
	}},
	{Name: AttrEducation, Kind: KindRecords, Synonyms: []string{"education", "academic background"}, Fields: []Attribute{
		{Name: "institution", Kind: KindText, Synonyms: []string{"school", "university", "institution", "college"}},
		{Name: "degree", Kind: KindText, Synonyms: []string{"degree", "qualification"}},
		{Name: "field_of_study", Kind: KindText, Synonyms: []string{"field of study", "major", "discipline", "specialization"}},
		{Name: "start_date", Kind: KindDate, Synonyms: []string{"start date", "from"}},
		{Name: "end_date", Kind: KindDate, Synonyms: []string{"end date", "graduation date", "to"}},
		{Name: "grade", Kind: KindText, Synonyms: []string{"grade", "gpa"}},
	}},
	{Name: AttrWillingToRelocate, Kind: KindBool, Synonyms: []string{"willing to relocate", "relocation", "open to relocation"}},
	{Name: AttrAuthorizedToWork, Kind: KindBool, Synonyms: []string{"authorized to work", "work authorization", "legally authorized", "right to work"}},
	{Name: AttrRequireSponsorship, Kind: KindBool, Synonyms: []string{"sponsorship", "require sponsorship", "visa sponsorship"}},
	{Name: AttrResumeFile, Kind: KindFile, Synonyms: []string{"resume", "cv", "resume/cv", "upload resume", "attach resume", "curriculum vitae"}},
}

// legacyNames maps keys used by older extractor exports onto schema names.
var legacyNames = map[string]string{
	"about":       AttrSummary,
	"experiences": AttrWorkExperience,
	"linkedin":    AttrLinkedInURL,
}

// Schema returns a copy of the attribute schema in its canonical order.
func Schema() []Attribute {
	out := make([]Attribute, len(schema))
	copy(out, schema)
	return out
}

// Lookup finds a top-level attribute by name, accepting legacy aliases.
func Lookup(name string) (Attribute, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, ok := legacyNames[name]; ok {
		name = alias
	}
	for _, attr := range schema {
		if attr.Name == name {
			return attr, true
		}
	}
	return Attribute{}, false
}
