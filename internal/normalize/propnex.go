package normalize

import (
	"time"

	"github.com/hartproperty/propsync/internal/model"
	"github.com/hartproperty/propsync/pkg/propnex"
)

// PropNex normalizes every sale in one project response. The sales,
// profitSales and lossSales lists are overlaid by sale id first.
func PropNex(resp *propnex.ProjectResponse, projectID int64) Result {
	var res Result
	if resp == nil {
		return res
	}
	for _, s := range resp.CombinedSales() {
		t, drop := PropNexSale(resp, s, projectID)
		if drop != nil {
			res.reject(drop)
			continue
		}
		res.accept(t)
	}
	return res
}

// PropNexSale normalizes one brokerage sale row.
func PropNexSale(resp *propnex.ProjectResponse, s propnex.Sale, projectID int64) (model.Transaction, *Drop) {
	drop := func(reason Reason, field, detail string) (model.Transaction, *Drop) {
		return model.Transaction{}, &Drop{Source: model.SourceBrokerage, Reason: reason, Field: field, Detail: detail}
	}

	name := firstText(s.SaleProjectNameDisplay, s.SaleProjectName, resp.ProjectNameDisplay, resp.ProjectName)
	if name == "" {
		return drop(ReasonMissingName, "saleProjectName", "")
	}

	price, ok := s.SalePrice.Float()
	if !ok || price <= 0 {
		raw, _ := s.SalePrice.Text()
		return drop(ReasonInvalidPrice, "salePrice", raw)
	}

	rawDate, _ := s.SaleDate.Text()
	if len(rawDate) > 10 {
		rawDate = rawDate[:10]
	}
	saleDate, err := model.ParseDate(rawDate)
	if err != nil {
		return drop(ReasonInvalidDate, "saleDate", rawDate)
	}

	t := model.Transaction{
		CondoName:          name,
		SaleDate:           saleDate,
		SalePrice:          price,
		Source:             model.SourceBrokerage,
		BrokerageProjectID: model.Ptr(projectID),
		UnitType:           textPtr(s.UnitType),
		SaleType:           textPtr(s.SaleType),
		PropertyType:       textPtr(s.TypeName),
	}
	if t.PropertyType == nil {
		t.PropertyType = textPtr(s.SaleSubtype)
	}

	t.ExactLevel = positiveInt(s.SaleFloor, s.TowerFloor)
	t.ExactUnit = positiveInt(s.SaleUnitNum, s.TowerUnitNum)
	if sqft, ok := firstFloat(s.SaleAreaSqft, s.TowerAreaSqft); ok && sqft > 0 {
		t.Sqft = &sqft
	}

	if raw, ok := s.SaleReturnAnnualized.Float(); ok {
		t.AnnualisedPct = model.Ptr(model.Round2(raw * 100))
	}
	if profit, ok := s.SaleProfit.Float(); ok {
		t.Profit = &profit
	}

	if pd, ok := s.PurchaseDate.Text(); ok {
		if len(pd) > 10 {
			pd = pd[:10]
		}
		if d, err := model.ParseDate(pd); err == nil {
			t.PurchaseDate = &d
		}
	}
	if t.PurchaseDate == nil {
		if days, ok := s.SaleHoldingDays.Int(); ok && days > 0 {
			t.PurchaseDate = model.Ptr(saleDate.Add(-time.Duration(days) * 24 * time.Hour))
		}
	}

	if pp, ok := s.PurchasePrice.Float(); ok && pp > 0 {
		t.PurchasePrice = &pp
	} else if t.Profit != nil {
		t.PurchasePrice = model.Ptr(model.Round2(price - *t.Profit))
	}

	model.StripPartialLineage(&t)
	return t, nil
}

// PropNexProject maps project metadata. The second return is false when
// the response carries no usable project id.
func PropNexProject(resp *propnex.ProjectResponse, projectID int64) (model.Project, bool) {
	if resp == nil {
		return model.Project{}, false
	}
	id := projectID
	if n, ok := resp.ProjectID.NonZeroInt(); ok {
		id = n
	}
	if id <= 0 {
		return model.Project{}, false
	}
	return model.Project{
		ProjectID:      id,
		Name:           firstText(resp.ProjectNameDisplay, resp.ProjectName),
		Developer:      textPtr(resp.ProjectDeveloper),
		Street:         textPtr(resp.ProjectStreetDisplay),
		Region:         textPtr(resp.ProjectRegion),
		DistrictID:     intPtr(resp.DistrictID),
		NumUnits:       intPtr(resp.ProjectNumUnits),
		Tenure:         textPtr(resp.ProjectTenureFrom),
		CompletionYear: intPtr(resp.ProjectCompletionYear),
		MaxFloor:       intPtr(resp.ProjectMaxFloorLvl),
		Latitude:       floatPtr(resp.ProjectLatitude),
		Longitude:      floatPtr(resp.ProjectLongitude),
	}, true
}

// PropNexRentals maps rental rows, skipping any without a rental id.
func PropNexRentals(resp *propnex.ProjectResponse) []model.Rental {
	if resp == nil {
		return nil
	}
	out := make([]model.Rental, 0, len(resp.Rentals))
	for _, r := range resp.Rentals {
		id, ok := r.RentalID.NonZeroInt()
		if !ok {
			continue
		}
		rental := model.Rental{
			RentalID:     id,
			ProjectID:    intPtr(r.ProjectID),
			Street:       textPtr(r.RentalStreetDisplay),
			LeaseDate:    textPtr(r.RentalLeaseDate),
			PropertyType: textPtr(r.RentalPropertyType),
			AreaSqftMin:  floatPtr(r.RentalAreaSqftMin),
			AreaSqftMax:  floatPtr(r.RentalAreaSqftMax),
			Rent:         floatPtr(r.RentalRent),
			PSF:          floatPtr(r.RentalPsf),
			Bedrooms:     intPtr(r.RentalBedroom),
		}
		if name := firstText(r.RentalProjectNameDisplay, r.RentalProjectName); name != "" {
			rental.ProjectName = &name
		}
		out = append(out, rental)
	}
	return out
}

func firstText(values ...propnex.Scalar) string {
	for _, v := range values {
		if s, ok := v.Text(); ok {
			return s
		}
	}
	return ""
}

func firstFloat(values ...propnex.Scalar) (float64, bool) {
	for _, v := range values {
		if f, ok := v.Float(); ok {
			return f, true
		}
	}
	return 0, false
}

func positiveInt(values ...propnex.Scalar) *int {
	for _, v := range values {
		if n, ok := v.Int(); ok && n > 0 {
			return model.Ptr(int(n))
		}
	}
	return nil
}

func textPtr(s propnex.Scalar) *string {
	if t, ok := s.Text(); ok {
		return &t
	}
	return nil
}

func intPtr(s propnex.Scalar) *int64 {
	if n, ok := s.Int(); ok {
		return &n
	}
	return nil
}

func floatPtr(s propnex.Scalar) *float64 {
	if f, ok := s.Float(); ok {
		return &f
	}
	return nil
}
