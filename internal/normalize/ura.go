package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hartproperty/propsync/internal/identity"
	"github.com/hartproperty/propsync/internal/model"
	"github.com/hartproperty/propsync/pkg/ura"
)

// residentialTypes are the URA property types kept.
var residentialTypes = map[string]bool{
	"condominium": true,
	"apartment":   true,
}

// SaleType maps URA typeOfSale codes to sale type labels.
func SaleType(code string) *string {
	switch strings.TrimSpace(code) {
	case "1":
		return model.Ptr(model.SaleTypeNew)
	case "2":
		return model.Ptr(model.SaleTypeSub)
	case "3":
		return model.Ptr(model.SaleTypeResale)
	default:
		return nil
	}
}

// ContractDate parses a URA MMYY contract date to the 15th of that month.
// The feed has no day precision. Two-digit years of 80 and above are 19xx.
func ContractDate(mmyy string) (time.Time, error) {
	mmyy = strings.TrimSpace(mmyy)
	if len(mmyy) != 4 {
		return time.Time{}, eris.Errorf("normalize: contract date %q is not MMYY", mmyy)
	}
	month, err := strconv.Atoi(mmyy[:2])
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, eris.Errorf("normalize: contract date %q has invalid month", mmyy)
	}
	yy, err := strconv.Atoi(mmyy[2:])
	if err != nil {
		return time.Time{}, eris.Errorf("normalize: contract date %q has invalid year", mmyy)
	}
	year := 2000 + yy
	if yy >= 80 {
		year = 1900 + yy
	}
	return model.Date(year, time.Month(month), 15), nil
}

// URA normalizes one batch. names maps normalized names to the display
// casing already in the store so a development keeps one spelling.
func URA(projects []ura.Project, names map[string]string) Result {
	var res Result
	for _, p := range projects {
		for _, tx := range p.Transactions {
			t, drop := URATransaction(p, tx, names)
			if drop != nil {
				res.reject(drop)
				continue
			}
			res.accept(t)
		}
	}
	return res
}

// URATransaction normalizes a single URA transaction.
func URATransaction(p ura.Project, tx ura.Transaction, names map[string]string) (model.Transaction, *Drop) {
	drop := func(reason Reason, field, detail string) (model.Transaction, *Drop) {
		return model.Transaction{}, &Drop{Source: model.SourceGovernment, Reason: reason, Field: field, Detail: detail}
	}

	name := strings.TrimSpace(p.Project)
	if name == "" {
		return drop(ReasonMissingName, "project", "")
	}
	if display, ok := names[identity.NormalizeName(name)]; ok {
		name = display
	}

	propertyType := strings.TrimSpace(string(tx.PropertyType))
	if !residentialTypes[strings.ToLower(propertyType)] {
		return drop(ReasonNonResidential, "propertyType", propertyType)
	}

	price, ok := parseAmount(string(tx.Price))
	if !ok {
		return drop(ReasonInvalidPrice, "price", string(tx.Price))
	}

	saleDate, err := ContractDate(string(tx.ContractDate))
	if err != nil {
		return drop(ReasonInvalidDate, "contractDate", string(tx.ContractDate))
	}

	t := model.Transaction{
		CondoName:    name,
		SaleDate:     saleDate,
		SalePrice:    price,
		SaleType:     SaleType(string(tx.TypeOfSale)),
		PropertyType: &propertyType,
		Source:       model.SourceGovernment,
	}
	t.LevelLow, t.LevelHigh = FloorRange(string(tx.FloorRange))
	if sqm, err := strconv.ParseFloat(strings.TrimSpace(string(tx.Area)), 64); err == nil && sqm > 0 {
		t.Sqft = model.Ptr(SqmToSqft(sqm))
	}
	return t, nil
}
