package nlp

import (
	"reflect"
	"strings"
	"testing"
)

const invoiceText = `INVOICE
Invoice Number: INV-2024-0047
Vendor: Acme Corporation
Amount Due: $125,000.00
Due Date: January 31, 2024
Issued: 2024-01-15

Contact billing@acme.com or visit https://portal.acme.com/invoice.
Phone: (212) 555-0100
Prepared by John Smith for Globex Ltd.
A late fee of 48,500 USD applies after 03/31/2024.`

func TestExtractFindsInvoiceEntities(t *testing.T) {
	f := Extract(invoiceText)

	if !reflect.DeepEqual(f.Emails, []string{"billing@acme.com"}) {
		t.Fatalf("unexpected emails %v", f.Emails)
	}
	if !reflect.DeepEqual(f.URLs, []string{"https://portal.acme.com/invoice"}) {
		t.Fatalf("unexpected urls %v", f.URLs)
	}
	if !reflect.DeepEqual(f.Phones, []string{"+12125550100"}) {
		t.Fatalf("unexpected phones %v", f.Phones)
	}
	wantDates := []string{"2024-01-31", "2024-01-15", "2024-03-31"}
	if !reflect.DeepEqual(f.Dates, wantDates) {
		t.Fatalf("expected dates %v, got %v", wantDates, f.Dates)
	}
	if len(f.MonetaryValues) != 2 {
		t.Fatalf("expected 2 monetary values, got %v", f.MonetaryValues)
	}
	if got := f.MonetaryValues[0]; got.Amount != 125000 || got.Currency != "USD" || got.Formatted != "USD 125,000.00" {
		t.Fatalf("unexpected first monetary value %+v", got)
	}
	if got := f.MonetaryValues[1]; got.Amount != 48500 || got.Formatted != "USD 48,500.00" {
		t.Fatalf("unexpected second monetary value %+v", got)
	}

	types := map[string][]string{}
	for _, e := range f.Entities {
		types[e.Type] = append(types[e.Type], e.Normalized)
	}
	if !reflect.DeepEqual(types[EntityOrg], []string{"Acme Corporation", "Globex Ltd"}) {
		t.Fatalf("unexpected orgs %v", types[EntityOrg])
	}
	if !reflect.DeepEqual(types[EntityPerson], []string{"John Smith"}) {
		t.Fatalf("unexpected persons %v", types[EntityPerson])
	}
}

func TestExtractDeduplicates(t *testing.T) {
	f := Extract("Mail a@b.io and A@B.io, then a@b.io again.")
	if len(f.Emails) != 1 {
		t.Fatalf("expected one email, got %v", f.Emails)
	}
}

func TestDateParsingRejectsImpossibleDates(t *testing.T) {
	f := Extract("Due 2024-02-30 or 31.04.2024 or 15.04.2024")
	if !reflect.DeepEqual(f.Dates, []string{"2024-04-15"}) {
		t.Fatalf("expected only the valid dotted date, got %v", f.Dates)
	}
}

func TestMoneyScales(t *testing.T) {
	f := Extract("Raised €2.5 million; spent £300k and ¥1200 on more supplies")
	want := []string{"EUR 2,500,000.00", "GBP 300,000.00", "JPY 1,200"}
	var got []string
	for _, m := range f.MonetaryValues {
		got = append(got, m.Formatted)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+44 20 7946 0958": "+442079460958",
		"800-555-1234":     "+18005551234",
		"1 800 555 1234":   "+18005551234",
	}
	for raw, want := range cases {
		got, ok := NormalizePhone(raw)
		if !ok || got != want {
			t.Fatalf("%s: expected %s, got %s (ok=%v)", raw, want, got, ok)
		}
	}
	if _, ok := NormalizePhone("555-0100"); ok {
		t.Fatalf("short local numbers should be ignored")
	}
}

func TestNormalize(t *testing.T) {
	in := "\ufb01nancial  report\r\n\r\n\r\n\r\nTotal:\t 42\u200b\x07"
	got := Normalize(in)
	if got != "financial report\n\nTotal: 42" {
		t.Fatalf("unexpected normalized text %q", got)
	}
}

func TestWordCountAndLanguage(t *testing.T) {
	if n := WordCount("The quick-brown fox's den — 42 times"); n != 6 {
		t.Fatalf("expected 6 words, got %d", n)
	}
	if lang := Language("The contract is signed and the payment is due for this month"); lang != "en" {
		t.Fatalf("expected en, got %s", lang)
	}
	if lang := Language("Der Vertrag ist nicht mit der Zahlung und das Datum"); lang != "de" {
		t.Fatalf("expected de, got %s", lang)
	}
	if lang := Language("Счёт на оплату поставки"); lang != "ru" {
		t.Fatalf("expected ru, got %s", lang)
	}
	if lang := Language("   "); lang != "und" {
		t.Fatalf("expected und, got %s", lang)
	}
}

func TestKeyValueLines(t *testing.T) {
	pairs := KeyValueLines(invoiceText)
	if pairs["Invoice Number"] != "INV-2024-0047" || pairs["Amount Due"] != "$125,000.00" {
		t.Fatalf("unexpected pairs %v", pairs)
	}
	if _, ok := pairs["Contact billing@acme.com or visit https"]; ok {
		t.Fatalf("url line should not become a pair")
	}
}

func TestKeywords(t *testing.T) {
	got := Keywords("Invoice invoice payment payment payment vendor the and 2024", 3)
	want := []string{"payment", "invoice", "vendor"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSummary(t *testing.T) {
	text := "First sentence here. Second sentence is longer than the cap allows."
	if got := Summary(text, 30); got != "First sentence here." {
		t.Fatalf("unexpected summary %q", got)
	}
	got := Summary(strings.Repeat("word ", 20), 22)
	if !strings.HasSuffix(got, "…") || len(got) > 25 {
		t.Fatalf("unexpected truncated summary %q", got)
	}
}
