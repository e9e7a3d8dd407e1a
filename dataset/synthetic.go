package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
)

// CustomerColumns is the column layout of the customer table.
var CustomerColumns = []string{
	IDColumn, "Gender", "Age", "Married", StateColumn, "Number_of_Referrals",
	TenureColumn, "Value_Deal", "Phone_Service", "Multiple_Lines",
	"Internet_Service", "Internet_Type", "Online_Security", "Online_Backup",
	"Device_Protection_Plan", "Premium_Support", "Streaming_TV",
	"Streaming_Movies", "Streaming_Music", "Unlimited_Data", "Contract",
	"Paperless_Billing", "Payment_Method", MonthlyChargeColumn, "Total_Charges",
	"Total_Refunds", "Total_Extra_Data_Charges", "Total_Long_Distance_Charges",
	"Total_Revenue", StatusColumn, "Churn_Category", "Churn_Reason",
}

var (
	syntheticStates = []string{
		"Andhra Pradesh", "Bihar", "Gujarat", "Haryana", "Karnataka",
		"Maharashtra", "Rajasthan", "Tamil Nadu", "Uttar Pradesh", "West Bengal",
	}
	syntheticContracts  = []string{"Month-to-Month", "One Year", "Two Year"}
	syntheticPayments   = []string{"Bank Withdrawal", "Credit Card", "Mailed Check"}
	syntheticInternet   = []string{"Fiber Optic", "Cable", "DSL"}
	syntheticCategories = []string{"Competitor", "Dissatisfaction", "Price", "Attitude", "Other"}
)

// Synthetic generates a deterministic customer table with n rows. Churn
// depends on contract type, tenure, add-on services, internet type and
// monthly charge, so models trained on it have learnable signal. Roughly 5%
// of rows are "Joined".
func Synthetic(n int, seed uint64) Frame {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	pick := func(xs []string) string { return xs[rng.IntN(len(xs))] }
	yesNo := func(p float64) string {
		if rng.Float64() < p {
			return "Yes"
		}
		return "No"
	}
	money := func(v float64) string { return strconv.FormatFloat(math.Round(v*100)/100, 'f', 2, 64) }

	rows := make([][]string, n)
	for i := 0; i < n; i++ {
		contract := syntheticContracts[weighted(rng, []float64{0.5, 0.25, 0.25})]
		tenure := 1 + rng.IntN(36)
		if contract == "Two Year" {
			tenure = 12 + rng.IntN(25)
		}
		internet := yesNo(0.8)
		internetType := "None"
		if internet == "Yes" {
			internetType = pick(syntheticInternet)
		}
		security, support := "No", "No"
		backup, device, unlimited := "No", "No", "No"
		streamTV, streamMovies, streamMusic := "No", "No", "No"
		if internet == "Yes" {
			security = yesNo(0.35)
			support = yesNo(0.35)
			backup = yesNo(0.4)
			device = yesNo(0.4)
			unlimited = yesNo(0.6)
			streamTV = yesNo(0.4)
			streamMovies = yesNo(0.4)
			streamMusic = yesNo(0.35)
		}
		phone := yesNo(0.9)
		multiple := "No"
		if phone == "Yes" {
			multiple = yesNo(0.45)
		}
		referrals := rng.IntN(11)
		monthly := 20 + rng.Float64()*30
		if internet == "Yes" {
			monthly += 25 + rng.Float64()*45
		}
		paperless := yesNo(0.6)

		logit := -0.9
		switch contract {
		case "Month-to-Month":
			logit += 1.6
		case "One Year":
			logit -= 0.6
		default:
			logit -= 2.0
		}
		logit -= 0.06 * float64(tenure)
		logit -= 0.12 * float64(referrals)
		if security == "No" {
			logit += 0.5
		}
		if support == "No" {
			logit += 0.4
		}
		if internetType == "Fiber Optic" {
			logit += 0.4
		}
		logit += 0.012 * (monthly - 65)
		if paperless == "Yes" {
			logit += 0.15
		}
		churned := rng.Float64() < 1/(1+math.Exp(-logit))

		status := StatusStayed
		category, reason := "", ""
		switch {
		case rng.Float64() < 0.05:
			status = StatusJoined
			tenure = 1 + rng.IntN(3)
		case churned:
			status = StatusChurned
			category = pick(syntheticCategories)
			reason = category + " reason " + strconv.Itoa(1+rng.IntN(3))
		}

		totalCharges := monthly * float64(tenure)
		refunds := 0.0
		if rng.Float64() < 0.08 {
			refunds = rng.Float64() * 40
		}
		extra := 0.0
		if unlimited == "No" && internet == "Yes" && rng.Float64() < 0.3 {
			extra = float64(10 * (1 + rng.IntN(15)))
		}
		longDistance := 0.0
		if phone == "Yes" {
			longDistance = rng.Float64() * 50 * float64(tenure)
		}
		deal := ""
		if rng.Float64() < 0.45 {
			deal = fmt.Sprintf("Deal %d", 1+rng.IntN(5))
		}
		gender := "Male"
		if rng.IntN(2) == 0 {
			gender = "Female"
		}

		rows[i] = []string{
			fmt.Sprintf("%05d-SYN", i+1), gender, strconv.Itoa(18 + rng.IntN(68)), yesNo(0.5),
			pick(syntheticStates), strconv.Itoa(referrals), strconv.Itoa(tenure), deal,
			phone, multiple, internet, internetType, security, backup, device, support,
			streamTV, streamMovies, streamMusic, unlimited, contract, paperless,
			pick(syntheticPayments), money(monthly), money(totalCharges), money(refunds),
			money(extra), money(longDistance),
			money(totalCharges - refunds + extra + longDistance),
			status, category, reason,
		}
	}
	return Frame{Columns: append([]string(nil), CustomerColumns...), Rows: rows}
}

func weighted(rng *rand.Rand, weights []float64) int {
	r := rng.Float64()
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r < acc {
			return i
		}
	}
	return len(weights) - 1
}
