package search

import (
	"errors"
	"reflect"
	"testing"

	"docsearch/internal/vectorstore"
)

func int64Ptr(v int64) *int64 { return &v }

func TestParseFilter(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    vectorstore.Filter
		wantErr bool
	}{
		{name: "empty", raw: ""},
		{name: "empty object", raw: "{}"},
		{name: "single department", raw: `{"department":"HR"}`, want: vectorstore.Filter{Departments: []string{"HR"}}},
		{name: "department list", raw: `{"department":["HR","IT",""]}`, want: vectorstore.Filter{Departments: []string{"HR", "IT"}}},
		{name: "blank department", raw: `{"department":""}`},
		{name: "null fields", raw: `{"department":null,"employee_id":null}`},
		{name: "employee number", raw: `{"employee_id":12}`, want: vectorstore.Filter{EmployeeID: int64Ptr(12)}},
		{name: "employee string", raw: `{"employee_id":"12"}`, want: vectorstore.Filter{EmployeeID: int64Ptr(12)}},
		{
			name: "both",
			raw:  `{"department":"الموارد البشرية","employee_id":3}`,
			want: vectorstore.Filter{Departments: []string{"الموارد البشرية"}, EmployeeID: int64Ptr(3)},
		},
		{name: "not json", raw: "department=HR", wantErr: true},
		{name: "department number", raw: `{"department":5}`, wantErr: true},
		{name: "empty department list", raw: `{"department":[]}`, wantErr: true},
		{name: "blank department list", raw: `{"department":["",""]}`, wantErr: true},
		{name: "employee fraction", raw: `{"employee_id":1.5}`, wantErr: true},
		{name: "employee word", raw: `{"employee_id":"abc"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFilter(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidFilter) {
					t.Errorf("ParseFilter() error = %v, want %v", err, ErrInvalidFilter)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFilter() unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseFilter() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
