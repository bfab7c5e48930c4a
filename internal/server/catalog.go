package server

// geoCatalog is the static pool round targets are sampled from.
var geoCatalog = []GeoLocation{
	{Name: "Eiffel Tower", Country: "France", Lat: 48.8584, Lng: 2.2945},
	{Name: "Statue of Liberty", Country: "United States", Lat: 40.6892, Lng: -74.0445},
	{Name: "Great Pyramid of Giza", Country: "Egypt", Lat: 29.9792, Lng: 31.1342},
	{Name: "Sydney Opera House", Country: "Australia", Lat: -33.8568, Lng: 151.2153},
	{Name: "Christ the Redeemer", Country: "Brazil", Lat: -22.9519, Lng: -43.2105},
	{Name: "Taj Mahal", Country: "India", Lat: 27.1751, Lng: 78.0421},
	{Name: "Colosseum", Country: "Italy", Lat: 41.8902, Lng: 12.4922},
	{Name: "Machu Picchu", Country: "Peru", Lat: -13.1631, Lng: -72.5450},
	{Name: "Great Wall at Badaling", Country: "China", Lat: 40.3544, Lng: 115.9766},
	{Name: "Mount Fuji", Country: "Japan", Lat: 35.3606, Lng: 138.7274},
	{Name: "Stonehenge", Country: "United Kingdom", Lat: 51.1789, Lng: -1.8262},
	{Name: "Golden Gate Bridge", Country: "United States", Lat: 37.8199, Lng: -122.4783},
	{Name: "Santorini", Country: "Greece", Lat: 36.3932, Lng: 25.4615},
	{Name: "Petra", Country: "Jordan", Lat: 30.3285, Lng: 35.4444},
	{Name: "Angkor Wat", Country: "Cambodia", Lat: 13.4125, Lng: 103.8670},
	{Name: "Niagara Falls", Country: "Canada", Lat: 43.0962, Lng: -79.0377},
	{Name: "Table Mountain", Country: "South Africa", Lat: -33.9628, Lng: 18.4098},
	{Name: "Sagrada Familia", Country: "Spain", Lat: 41.4036, Lng: 2.1744},
	{Name: "Moai of Easter Island", Country: "Chile", Lat: -27.1127, Lng: -109.3497},
	{Name: "Burj Khalifa", Country: "United Arab Emirates", Lat: 25.1972, Lng: 55.2744},
	{Name: "Neuschwanstein Castle", Country: "Germany", Lat: 47.5576, Lng: 10.7498},
	{Name: "Hagia Sophia", Country: "Turkey", Lat: 41.0086, Lng: 28.9802},
	{Name: "Banff National Park", Country: "Canada", Lat: 51.4968, Lng: -115.9281},
	{Name: "Uluru", Country: "Australia", Lat: -25.3444, Lng: 131.0369},
}
